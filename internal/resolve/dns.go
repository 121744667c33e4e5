package resolve

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DNSLookup queries one nameserver directly and returns records in the
// order the server sent them.
type DNSLookup struct {
	server string
	client *dns.Client
}

// NewDNSLookup builds a lookup against server ("host:port"). A zero timeout
// uses the client default.
func NewDNSLookup(server string, timeout time.Duration) *DNSLookup {
	c := &dns.Client{Net: "udp"}
	if timeout > 0 {
		c.Timeout = timeout
	}
	return &DNSLookup{server: server, client: c}
}

func (l *DNSLookup) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	fqdn := dns.Fqdn(fmt.Sprintf("_%s._%s.%s", service, proto, name))
	msg, err := l.exchange(ctx, fqdn, dns.TypeSRV)
	if err != nil {
		return "", nil, err
	}
	var out []*net.SRV
	for _, rr := range msg.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		out = append(out, &net.SRV{
			Target:   srv.Target,
			Port:     srv.Port,
			Priority: srv.Priority,
			Weight:   srv.Weight,
		})
	}
	if len(out) == 0 {
		return "", nil, &net.DNSError{Err: "no SRV records", Name: fqdn, Server: l.server, IsNotFound: true}
	}
	return fqdn, out, nil
}

// LookupHost returns the A records of host, or its AAAA records when it
// has no A records.
func (l *DNSLookup) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip, ok := literalIP(host); ok {
		return []string{ip}, nil
	}
	fqdn := dns.Fqdn(host)
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg, err := l.exchange(ctx, fqdn, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		var out []string
		for _, rr := range msg.Answer {
			switch v := rr.(type) {
			case *dns.A:
				out = append(out, v.A.String())
			case *dns.AAAA:
				out = append(out, v.AAAA.String())
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &net.DNSError{Err: "no such host", Name: fqdn, Server: l.server, IsNotFound: true}
}

func (l *DNSLookup) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = true

	resp, _, err := l.client.ExchangeContext(ctx, m, l.server)
	if err != nil {
		return nil, err
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
		return resp, nil
	case dns.RcodeNameError:
		return nil, &net.DNSError{Err: "no such host", Name: name, Server: l.server, IsNotFound: true}
	default:
		return nil, &net.DNSError{Err: dns.RcodeToString[resp.Rcode], Name: name, Server: l.server}
	}
}
