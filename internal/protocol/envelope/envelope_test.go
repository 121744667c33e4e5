package envelope

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/boltctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestHandshakeWireShape(t *testing.T) {
	testlog.Start(t)
	env, err := Handshake("alice", "ARMORED", time.Unix(1700000000, 999_000_000))
	require.NoError(t, err)

	raw, err := Encode(env)
	require.NoError(t, err)
	require.JSONEq(t,
		`{"d":{"user":{"pubkey":"ARMORED","nick":"alice"}},"e":{"t":"join","c":1700000000}}`,
		string(raw))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	in, err := New(TagMsg, map[string]any{"body": "hi {there}", "n": 3}, time.Unix(1760000000, 0))
	require.NoError(t, err)

	raw, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(raw)
	require.NoError(t, err)

	require.Equal(t, in.Tag(), out.Tag())
	require.Equal(t, in.Meta.Created, out.Meta.Created)
	require.JSONEq(t, string(in.Data), string(out.Data))
	require.Equal(t, time.Unix(1760000000, 0), out.Time())
}

func TestDecodeUnknownTagIsValid(t *testing.T) {
	testlog.Start(t)
	env, err := Decode([]byte(`{"d":null,"e":{"t":"typing","c":5}}`))
	require.NoError(t, err)
	require.Equal(t, Tag("typing"), env.Tag())
	require.False(t, env.Tag().Known())
	require.True(t, TagMotd.Known())
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"not json":     `{"d":{},"e":`,
		"missing e":    `{"d":{}}`,
		"missing tag":  `{"d":{},"e":{"c":1}}`,
		"empty tag":    `{"d":{},"e":{"t":"","c":1}}`,
		"missing time": `{"d":{},"e":{"t":"msg"}}`,
		"float time":   `{"d":{},"e":{"t":"msg","c":1.5}}`,
		"missing d":    `{"e":{"t":"msg","c":1}}`,
		"array frame":  `[1,2,3]`,
	}
	for name, frame := range cases {
		_, err := Decode([]byte(frame))
		require.Error(t, err, name)
		require.True(t, errors.Is(err, ErrInvalidEnvelope), "%s: %v", name, err)
	}
}

func TestDecodeDataIntoUserPayload(t *testing.T) {
	testlog.Start(t)
	env, err := Decode([]byte(`{"d":{"user":{"nick":"bob","pubkey":"K"}},"e":{"t":"leave","c":9}}`))
	require.NoError(t, err)

	var p UserPayload
	require.NoError(t, env.DecodeData(&p))
	require.Equal(t, "bob", p.User.Nick)
	require.Equal(t, "K", p.User.PubKey)

	var wrong []int
	require.Error(t, env.DecodeData(&wrong))
}

func TestNewRejectsUnmarshalablePayload(t *testing.T) {
	testlog.Start(t)
	_, err := New(TagMsg, json.RawMessage(`{bad`), time.Now())
	require.Error(t, err)
}

func TestTypedPayloadsDecode(t *testing.T) {
	testlog.Start(t)

	env, err := Decode([]byte(`{"d":{"error":"nick taken","code":409},"e":{"t":"err","c":5}}`))
	require.NoError(t, err)
	var ep ErrorPayload
	require.NoError(t, env.DecodeData(&ep))
	require.Equal(t, ErrorPayload{Code: 409, Error: "nick taken"}, ep)

	env, err = Decode([]byte(`{"d":{"msg":"welcome"},"e":{"t":"motd","c":6}}`))
	require.NoError(t, err)
	var mp MotdPayload
	require.NoError(t, env.DecodeData(&mp))
	require.Equal(t, "welcome", mp.Msg)
}

func TestMessageCarriesSender(t *testing.T) {
	testlog.Start(t)

	env, err := Message(User{Nick: "alice", PubKey: "K"}, "hi", time.Unix(9, 0))
	require.NoError(t, err)
	raw, err := Encode(env)
	require.NoError(t, err)
	require.JSONEq(t, `{"d":{"body":"hi","user":{"pubkey":"K","nick":"alice"}},"e":{"t":"msg","c":9}}`, string(raw))
}
