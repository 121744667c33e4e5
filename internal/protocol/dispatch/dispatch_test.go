package dispatch

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/boltctl/internal/protocol/envelope"
	"github.com/danmuck/boltctl/internal/protocol/frame"
	"github.com/danmuck/boltctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

var testTime = time.Unix(1700000000, 0)

type delivery struct {
	tag     envelope.Tag
	payload string
}

type recorder struct {
	got []delivery
}

func (r *recorder) handler(env envelope.Envelope) {
	r.got = append(r.got, delivery{tag: env.Tag(), payload: string(env.Data)})
}

func subscribeAll(t *testing.T, d *Dispatcher, r *recorder) {
	t.Helper()
	for _, tag := range envelope.Tags {
		require.NoError(t, d.Subscribe(tag, r.handler))
	}
}

func sampleStream() string {
	frames := []string{
		`{"d":{"user":{"pubkey":"K1","nick":"alice"}},"e":{"t":"join","c":1}}`,
		`{"d":{"body":"hello {world}"},"e":{"t":"msg","c":2}}`,
		`{"d":{"body":"esc \"}\" done"},"e":{"t":"msg","c":3}}`,
		`{"d":{"msg":"welcome"},"e":{"t":"motd","c":4}}`,
		`{"d":{"error":"nope"},"e":{"t":"err","c":5}}`,
		`{"d":{"user":{"pubkey":"K1","nick":"alice"}},"e":{"t":"leave","c":6}}`,
	}
	return strings.Join(frames, "")
}

func TestFeedExampleSplitMotd(t *testing.T) {
	testlog.Start(t)
	d := New()
	r := &recorder{}
	subscribeAll(t, d, r)

	require.Equal(t, 0, d.Feed([]byte(`{"d":{},"e":{"t":"motd"`)))
	require.Empty(t, r.got)

	require.Equal(t, 1, d.Feed([]byte(`,"c":1}}`)))
	require.Equal(t, []delivery{{tag: envelope.TagMotd, payload: `{}`}}, r.got)
}

func TestFeedUnsubscribedTagIsConsumed(t *testing.T) {
	testlog.Start(t)
	d := New()
	var joins int
	require.NoError(t, d.Subscribe(envelope.TagJoin, func(envelope.Envelope) { joins++ }))

	require.Equal(t, 1, d.Feed([]byte(`{"d":{"body":"x"},"e":{"t":"msg","c":1}}`)))
	require.Equal(t, 0, joins)

	// The msg frame is gone; only the new join is delivered.
	d.Feed([]byte(`{"d":{"user":{"nick":"a","pubkey":"k"}},"e":{"t":"join","c":2}}`))
	require.Equal(t, 1, joins)
}

func TestFeedBatchDispatchesInOrder(t *testing.T) {
	testlog.Start(t)
	d := New()
	r := &recorder{}
	subscribeAll(t, d, r)

	require.Equal(t, 6, d.Feed([]byte(sampleStream())))
	tags := make([]envelope.Tag, 0, len(r.got))
	for _, g := range r.got {
		tags = append(tags, g.tag)
	}
	require.Equal(t, []envelope.Tag{
		envelope.TagJoin, envelope.TagMsg, envelope.TagMsg,
		envelope.TagMotd, envelope.TagErr, envelope.TagLeave,
	}, tags)
}

func TestFeedChunkInvariance(t *testing.T) {
	testlog.Start(t)
	stream := []byte(sampleStream())

	whole := New()
	want := &recorder{}
	subscribeAll(t, whole, want)
	whole.Feed(stream)

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		d := New()
		got := &recorder{}
		subscribeAll(t, d, got)

		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			if n > 17 {
				n = 1 + rng.Intn(17)
			}
			d.Feed(rest[:n])
			rest = rest[n:]
		}
		require.Equal(t, want.got, got.got, "round %d", round)
	}
}

func TestFeedSplitFrameAtEveryOffset(t *testing.T) {
	testlog.Start(t)
	in := `{"d":{"body":"a [b] {c} \\\" d"},"e":{"t":"msg","c":7}}`
	for i := 1; i < len(in); i++ {
		d := New()
		r := &recorder{}
		subscribeAll(t, d, r)

		d.Feed([]byte(in[:i]))
		require.Empty(t, r.got, "offset %d", i)
		d.Feed([]byte(in[i:]))
		require.Len(t, r.got, 1, "offset %d", i)
		require.Equal(t, `{"body":"a [b] {c} \\\" d"}`, r.got[0].payload, "offset %d", i)
	}
}

func TestFeedMalformedFrameIsIsolated(t *testing.T) {
	testlog.Start(t)
	var diags []*FramingError
	d := New(WithDiagnostics(func(ferr *FramingError) { diags = append(diags, ferr) }))
	r := &recorder{}
	subscribeAll(t, d, r)

	stream := `{"d":{},"e":{"t":"motd","c":1}}` +
		`{"d":{},"e":{"t":"msg"}}` +
		`{"not":"an envelope"}` +
		`{"d":{},"e":{"t":"motd","c":2}}`
	require.Equal(t, 2, d.Feed([]byte(stream)))
	require.Len(t, r.got, 2)
	require.Len(t, diags, 2)
	for _, ferr := range diags {
		require.True(t, errors.Is(ferr, envelope.ErrInvalidEnvelope), ferr.Error())
		require.NotEmpty(t, ferr.Frame)
	}
}

func TestFeedStrayBytesAreReported(t *testing.T) {
	testlog.Start(t)
	var diags []*FramingError
	d := New(WithDiagnostics(func(ferr *FramingError) { diags = append(diags, ferr) }))
	r := &recorder{}
	subscribeAll(t, d, r)

	d.Feed([]byte("PING\r\n" + `{"d":{},"e":{"t":"motd","c":1}}`))
	require.Len(t, r.got, 1)
	require.Len(t, diags, 1)
	require.True(t, errors.Is(diags[0], frame.ErrStrayByte))
}

func TestFeedOversizedFrameIsReported(t *testing.T) {
	testlog.Start(t)
	var diags []*FramingError
	d := New(
		WithLimits(frame.Limits{MaxFrameBytes: 64}),
		WithDiagnostics(func(ferr *FramingError) { diags = append(diags, ferr) }),
	)
	r := &recorder{}
	subscribeAll(t, d, r)

	big := fmt.Sprintf(`{"d":{"body":%q},"e":{"t":"msg","c":1}}`, strings.Repeat("x", 200))
	d.Feed([]byte(big + `{"d":{},"e":{"t":"motd","c":2}}`))
	require.Len(t, r.got, 1)
	require.Equal(t, envelope.TagMotd, r.got[0].tag)
	require.Len(t, diags, 1)
	require.True(t, errors.Is(diags[0], frame.ErrFrameTooLarge))
}

func TestSubscribeFanOutInSubscriptionOrder(t *testing.T) {
	testlog.Start(t)
	d := New()
	var order []string
	require.NoError(t, d.Subscribe(envelope.TagMsg, func(envelope.Envelope) { order = append(order, "first") }))
	require.NoError(t, d.Subscribe(envelope.TagMsg, func(envelope.Envelope) { order = append(order, "second") }))

	d.Feed([]byte(`{"d":{},"e":{"t":"msg","c":1}}{"d":{},"e":{"t":"msg","c":2}}`))
	require.Equal(t, []string{"first", "second", "first", "second"}, order)
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	testlog.Start(t)
	d := New()
	require.ErrorIs(t, d.Subscribe(envelope.TagMsg, nil), ErrNilHandler)
}

func TestPublishReportsRouting(t *testing.T) {
	testlog.Start(t)
	d := New()
	r := &recorder{}
	require.NoError(t, d.Subscribe(envelope.TagErr, r.handler))

	env, err := envelope.New(envelope.TagErr, map[string]string{"error": "x"}, testTime)
	require.NoError(t, err)
	require.True(t, d.Publish(env))

	other, err := envelope.New(envelope.Tag("typing"), struct{}{}, testTime)
	require.NoError(t, err)
	require.False(t, d.Publish(other))
	require.Len(t, r.got, 1)
}
