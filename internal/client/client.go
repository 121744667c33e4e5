package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/boltctl/internal/observability"
	"github.com/danmuck/boltctl/internal/protocol/dispatch"
	"github.com/danmuck/boltctl/internal/protocol/envelope"
	"github.com/danmuck/boltctl/internal/protocol/frame"
	"github.com/danmuck/boltctl/internal/resolve"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrHostRequired      = errors.New("client: host required")
	ErrUsernameRequired  = errors.New("client: username required")
	ErrKeySourceRequired = errors.New("client: key source required")
	ErrIdentity          = errors.New("client: identity unavailable")
	ErrConnection        = errors.New("client: connection failed")
	ErrAlreadyConnected  = errors.New("client: connect already attempted")
	ErrNotConnected      = errors.New("client: not connected")
	ErrClosed            = errors.New("client: closed")
)

const readChunkSize = 32 * 1024

// DialFunc opens the transport connection. net.Dialer.DialContext fits.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config defines one client connection.
type Config struct {
	Host           string
	Port           *int
	Username       string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	EventsBuffer   int
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout: 15 * time.Second,
		EventsBuffer: 16,
		Limits:       frame.DefaultLimits(),
	}
}

type Option func(*Client)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithClock overrides the handshake timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client owns one TCP connection to a chat server: it resolves the server,
// announces the local identity and turns the inbound stream into envelopes
// for subscribers. It never reconnects; build a new Client instead.
type Client struct {
	cfg      Config
	resolver AddressResolver
	keys     KeySource
	dial     DialFunc
	now      func() time.Time
	log      zerolog.Logger
	id       string

	dispatcher *dispatch.Dispatcher
	state      atomic.Int32

	mu            sync.Mutex
	conn          net.Conn
	addr          resolve.Address
	cancelConnect context.CancelFunc

	writeMu sync.Mutex

	errs     chan error
	diags    chan *dispatch.FramingError
	done     chan struct{}
	doneOnce sync.Once
}

// New builds an idle client. A nil resolver uses SRV discovery through the
// system resolver.
func New(cfg Config, resolver AddressResolver, keys KeySource, opts ...Option) (*Client, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Username = strings.TrimSpace(cfg.Username)
	if cfg.Host == "" {
		return nil, ErrHostRequired
	}
	if cfg.Username == "" {
		return nil, ErrUsernameRequired
	}
	if keys == nil {
		return nil, ErrKeySourceRequired
	}
	if resolver == nil {
		resolver = resolve.New(nil)
	}
	if cfg.EventsBuffer <= 0 {
		cfg.EventsBuffer = DefaultConfig().EventsBuffer
	}

	c := &Client{
		cfg:      cfg,
		resolver: resolver,
		keys:     keys,
		dial:     (&net.Dialer{}).DialContext,
		now:      time.Now,
		log:      zerolog.Nop(),
		id:       uuid.NewString(),
		errs:     make(chan error, cfg.EventsBuffer),
		diags:    make(chan *dispatch.FramingError, cfg.EventsBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("session", c.id).Str("host", cfg.Host).Logger()
	c.dispatcher = dispatch.New(
		dispatch.WithLogger(c.log),
		dispatch.WithLimits(cfg.Limits),
		dispatch.WithSession(c.id),
		dispatch.WithDiagnostics(c.diagnose),
	)
	return c, nil
}

// ID returns the local session id used to tag log lines.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// Address returns the resolved server address once connected.
func (c *Client) Address() resolve.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Errors carries the terminal error of a connection that failed after
// Connect returned.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Diagnostics carries frames dropped because they could not be decoded.
// Diagnostics are discarded when the channel is full.
func (c *Client) Diagnostics() <-chan *dispatch.FramingError {
	return c.diags
}

// Done is closed once the connection is finished, by error or Close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Subscribe registers h for every future envelope tagged tag. Handlers run on
// the read goroutine in arrival order and must not call Subscribe.
func (c *Client) Subscribe(tag envelope.Tag, h dispatch.Handler) error {
	return c.dispatcher.Subscribe(tag, h)
}

// Connect resolves the server, reads the identity keys, dials and writes the
// join handshake. It returns once the handshake bytes are written; no server
// acknowledgement is awaited. Connect may be called once per Client.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.State() {
	case StateIdle:
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	default:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.cfg.ConnectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelConnect = cancel
	c.transition(StateResolving)
	c.mu.Unlock()

	start := time.Now()
	conn, addr, err := c.establish(ctx)
	if err != nil {
		observability.RecordConnect(connectOutcome(err), time.Since(start))
		c.log.Warn().Err(err).Msg("client: connect failed")
		c.transition(StateErrored)
		c.finish()
		if c.State() == StateClosed && !errors.Is(err, ErrClosed) {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return err
	}

	c.mu.Lock()
	c.cancelConnect = nil
	if !c.transition(StateConnected) {
		c.mu.Unlock()
		_ = conn.Close()
		c.finish()
		return ErrClosed
	}
	c.conn = conn
	c.addr = addr
	c.mu.Unlock()

	observability.RecordConnect("ok", time.Since(start))
	c.log.Info().Str("addr", addr.String()).Str("nick", c.cfg.Username).Msg("client: connected")
	go c.readLoop(conn)
	return nil
}

func (c *Client) establish(ctx context.Context) (net.Conn, resolve.Address, error) {
	addr, err := c.resolver.Resolve(ctx, c.cfg.Host, c.cfg.Port)
	if err != nil {
		if !errors.Is(err, resolve.ErrResolution) {
			err = fmt.Errorf("%w: %w", resolve.ErrResolution, err)
		}
		return nil, resolve.Address{}, err
	}
	c.log.Debug().Str("addr", addr.String()).Msg("client: resolved")

	if err := ctx.Err(); err != nil {
		return nil, addr, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if err := c.keys.ReadPrivateKey(ctx); err != nil {
		return nil, addr, identityError(ctx, "private key", err)
	}
	pubKey, err := c.keys.ReadPublicKey(ctx)
	if err != nil {
		return nil, addr, identityError(ctx, "public key", err)
	}

	if !c.transition(StateConnecting) {
		return nil, addr, ErrClosed
	}
	conn, err := c.dial(ctx, "tcp", addr.String())
	if err != nil {
		return nil, addr, fmt.Errorf("%w: dial %s: %w", ErrConnection, addr, err)
	}

	if !c.transition(StateHandshaking) {
		_ = conn.Close()
		return nil, addr, ErrClosed
	}
	hello, err := envelope.Handshake(c.cfg.Username, pubKey, c.now())
	if err != nil {
		_ = conn.Close()
		return nil, addr, err
	}
	if err := c.write(ctx, conn, hello); err != nil {
		_ = conn.Close()
		return nil, addr, err
	}
	return conn, addr, nil
}

// Send writes one envelope on the live connection. Writes are serialized so
// frames never interleave on the wire.
func (c *Client) Send(ctx context.Context, env envelope.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	state := c.State()
	c.mu.Unlock()
	switch {
	case state == StateClosed:
		return ErrClosed
	case state != StateConnected || conn == nil:
		return ErrNotConnected
	}
	return c.write(ctx, conn, env)
}

// Close tears the connection down and waits for the read goroutine. It is
// safe to call more than once and from any state.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.State() == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.transition(StateClosed)
	conn := c.conn
	cancel := c.cancelConnect
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		c.finish()
		return nil
	}
	err := conn.Close()
	<-c.done
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	c.log.Info().Msg("client: closed")
	return err
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.finish()
	buf := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.dispatcher.Feed(buf[:n])
		}
		if err == nil {
			continue
		}
		if !c.transition(StateErrored) {
			return
		}
		_ = conn.Close()
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: closed by peer: %w", ErrConnection, err)
		} else {
			err = fmt.Errorf("%w: %w", ErrConnection, err)
		}
		observability.RecordConnectionError()
		c.log.Warn().Err(err).Msg("client: connection lost")
		select {
		case c.errs <- err:
		default:
		}
		return
	}
}

func (c *Client) write(ctx context.Context, conn net.Conn, env envelope.Envelope) error {
	raw, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(c.writeDeadline(ctx)); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer conn.SetWriteDeadline(time.Time{})
	if _, err := conn.Write(raw); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrConnection, env.Tag(), err)
	}
	return nil
}

func (c *Client) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline
}

// identityError keeps an abort that raced a key read apart from bad key material.
func identityError(ctx context.Context, step string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %s: %w", ErrConnection, step, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrIdentity, step, err)
}

func (c *Client) diagnose(ferr *dispatch.FramingError) {
	select {
	case c.diags <- ferr:
	default:
		c.log.Warn().Err(ferr).Msg("client: diagnostics full, dropping")
	}
}

// transition moves to the next state unless the client is already closed,
// or already errored and the target is not Closed.
func (c *Client) transition(to State) bool {
	for {
		from := c.State()
		if from.Terminal() && (from == StateClosed || to != StateClosed) {
			return false
		}
		if c.state.CompareAndSwap(int32(from), int32(to)) {
			c.log.Debug().Stringer("from", from).Stringer("to", to).Msg("client: state")
			return true
		}
	}
}

func (c *Client) finish() {
	c.doneOnce.Do(func() {
		observability.ForgetSession(c.id)
		close(c.done)
	})
}

func connectOutcome(err error) string {
	switch {
	case errors.Is(err, resolve.ErrResolution):
		return "resolution_error"
	case errors.Is(err, ErrIdentity):
		return "identity_error"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "aborted"
	default:
		return "connection_error"
	}
}
