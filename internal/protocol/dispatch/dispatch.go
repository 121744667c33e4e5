package dispatch

import (
	"errors"
	"fmt"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/danmuck/boltctl/internal/observability"
	"github.com/danmuck/boltctl/internal/protocol/envelope"
	"github.com/danmuck/boltctl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

var ErrNilHandler = errors.New("dispatch: nil handler")

// Handler receives every envelope published under the tag it subscribed to.
type Handler func(envelope.Envelope)

// FramingError reports one frame, or run of bytes, that was dropped.
type FramingError struct {
	Frame []byte
	Err   error
}

func (e *FramingError) Error() string {
	if len(e.Frame) == 0 {
		return fmt.Sprintf("dispatch: framing error: %v", e.Err)
	}
	return fmt.Sprintf("dispatch: framing error: %v (frame %d bytes)", e.Err, len(e.Frame))
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

type Option func(*Dispatcher)

func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = logger
	}
}

func WithLimits(limits frame.Limits) Option {
	return func(d *Dispatcher) {
		d.buf = frame.NewBuffer(limits)
	}
}

// WithSession labels this dispatcher's per-session metrics.
func WithSession(id string) Option {
	return func(d *Dispatcher) {
		if id != "" {
			d.session = id
		}
	}
}

// WithDiagnostics installs the sink for dropped frames. It runs on the
// feeding goroutine and must not block.
func WithDiagnostics(fn func(*FramingError)) Option {
	return func(d *Dispatcher) {
		d.onFramingError = fn
	}
}

// Dispatcher frames an inbound byte stream once and fans each decoded
// envelope out to the handlers subscribed to its tag, in arrival order.
//
// Handlers run synchronously on the goroutine calling Feed and must not call
// Subscribe.
type Dispatcher struct {
	bus            evbus.Bus
	buf            *frame.Buffer
	log            zerolog.Logger
	onFramingError func(*FramingError)
	session        string

	feedMu sync.Mutex
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		bus:     evbus.New(),
		buf:     frame.NewBuffer(frame.DefaultLimits()),
		log:     zerolog.Nop(),
		session: "none",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers h for every future envelope tagged tag. There is no
// unsubscribe; subscriptions live as long as the dispatcher.
func (d *Dispatcher) Subscribe(tag envelope.Tag, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if !tag.Known() {
		d.log.Warn().Str("tag", string(tag)).Msg("dispatch: subscribing to tag outside the known set")
	}
	if err := d.bus.Subscribe(string(tag), h); err != nil {
		return fmt.Errorf("dispatch: subscribe %q: %w", tag, err)
	}
	return nil
}

// Feed pushes one inbound chunk and dispatches every frame it completes.
// It returns the number of envelopes decoded from this chunk.
func (d *Dispatcher) Feed(chunk []byte) int {
	d.feedMu.Lock()
	defer d.feedMu.Unlock()

	d.buf.Push(chunk)
	decoded := 0
	for {
		raw, ok, err := d.buf.Next()
		if err != nil {
			d.reportFramingError(&FramingError{Err: err})
			continue
		}
		if !ok {
			break
		}
		env, err := envelope.Decode(raw)
		if err != nil {
			d.reportFramingError(&FramingError{Frame: raw, Err: err})
			continue
		}
		decoded++
		d.Publish(env)
	}
	observability.SetBufferedBytes(d.session, d.buf.Buffered())
	return decoded
}

// Publish delivers env to the handlers of its tag and reports whether any
// handler was registered. Envelopes nobody subscribed to are dropped.
func (d *Dispatcher) Publish(env envelope.Envelope) bool {
	tag := env.Tag()
	routed := d.bus.HasCallback(string(tag))
	observability.RecordFrame(string(tag), routed)
	if !routed {
		d.log.Trace().Str("tag", string(tag)).Msg("dispatch: no subscriber")
		return false
	}
	d.bus.Publish(string(tag), env)
	return true
}

func (d *Dispatcher) reportFramingError(ferr *FramingError) {
	observability.RecordFramingError(framingReason(ferr.Err))
	d.log.Warn().Err(ferr.Err).Int("frame_bytes", len(ferr.Frame)).Msg("dispatch: dropped frame")
	if d.onFramingError != nil {
		d.onFramingError(ferr)
	}
}

func framingReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrStrayByte):
		return "stray_bytes"
	case errors.Is(err, frame.ErrFrameTooLarge):
		return "too_large"
	case errors.Is(err, envelope.ErrInvalidEnvelope):
		return "invalid_envelope"
	default:
		return "other"
	}
}
