//go:generate go run go.uber.org/mock/mockgen -source=resolve.go -destination=../mocks/mock_lookup.go -package=mocks

package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	DefaultPort    = 3300
	DefaultService = "bolt"
)

var ErrResolution = errors.New("resolve: resolution failed")

// Address is a concrete dial target.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Lookup is the DNS surface the resolver needs. *net.Resolver satisfies it.
type Lookup interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type Option func(*Resolver)

func WithService(service string) Option {
	return func(r *Resolver) {
		if s := strings.TrimSpace(service); s != "" {
			r.service = s
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.log = logger
	}
}

// Resolver turns a configured host into a dial address, using SRV discovery
// for anything that is not a literal IP.
type Resolver struct {
	lookup  Lookup
	service string
	log     zerolog.Logger
}

// New returns a resolver over lookup, or over the system resolver when
// lookup is nil.
func New(lookup Lookup, opts ...Option) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	r := &Resolver{
		lookup:  lookup,
		service: DefaultService,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ServiceName returns the SRV owner name queried for host.
func (r *Resolver) ServiceName(host string) string {
	return fmt.Sprintf("_%s._tcp.%s", r.service, host)
}

// Resolve returns the dial address for host. A literal IP keeps port, or
// DefaultPort when port is nil. Otherwise the first SRV record wins, in the
// order the lookup returned it, and its port replaces any configured one.
func (r *Resolver) Resolve(ctx context.Context, host string, port *int) (Address, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Address{}, fmt.Errorf("%w: empty host", ErrResolution)
	}

	if ip, ok := literalIP(host); ok {
		addr := Address{Host: ip, Port: DefaultPort}
		if port != nil {
			addr.Port = *port
		}
		r.log.Debug().Str("addr", addr.String()).Msg("resolve: literal ip, skipping discovery")
		return addr, nil
	}

	_, records, err := r.lookup.LookupSRV(ctx, r.service, "tcp", host)
	if err != nil {
		return Address{}, fmt.Errorf("%w: srv lookup %s: %v", ErrResolution, r.ServiceName(host), err)
	}
	if len(records) == 0 || records[0] == nil {
		return Address{}, fmt.Errorf("%w: no srv records for %s", ErrResolution, r.ServiceName(host))
	}
	rec := records[0]
	target := strings.TrimSuffix(rec.Target, ".")
	if target == "" {
		return Address{}, fmt.Errorf("%w: srv record for %s has empty target", ErrResolution, r.ServiceName(host))
	}

	addrs, err := r.lookup.LookupHost(ctx, target)
	if err != nil {
		return Address{}, fmt.Errorf("%w: host lookup %s: %v", ErrResolution, target, err)
	}
	if len(addrs) == 0 {
		return Address{}, fmt.Errorf("%w: no addresses for %s", ErrResolution, target)
	}

	addr := Address{Host: addrs[0], Port: int(rec.Port)}
	r.log.Debug().
		Str("host", host).
		Str("target", target).
		Int("records", len(records)).
		Str("addr", addr.String()).
		Msg("resolve: discovered service")
	return addr, nil
}

func literalIP(host string) (string, bool) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	ip, err := netip.ParseAddr(trimmed)
	if err != nil {
		return "", false
	}
	return ip.String(), true
}
