package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/danmuck/boltctl/internal/client"
	"github.com/danmuck/boltctl/internal/identity"
	"github.com/danmuck/boltctl/internal/protocol/envelope"
	"github.com/danmuck/boltctl/internal/protocol/frame"
	"github.com/danmuck/boltctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestConfigInitThenValidate(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "boltctl.toml")

	out, err := run(t, context.Background(), "config", "init", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "wrote "+path)

	_, err = run(t, context.Background(), "config", "init", "--config", path)
	require.ErrorContains(t, err, "already exists")

	out, err = run(t, context.Background(), "config", "validate", "--config", path)
	require.NoError(t, err)
	require.Contains(t, out, "validated "+path)
}

func TestResolveLiteralAddress(t *testing.T) {
	testlog.Start(t)

	out, err := run(t, context.Background(), "resolve", "192.0.2.1")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1:3300\n", out)

	out, err = run(t, context.Background(), "resolve", "192.0.2.1", "--port", "4100")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1:4100\n", out)
}

func TestUnknownLogLevel(t *testing.T) {
	testlog.Start(t)
	_, err := run(t, context.Background(), "resolve", "192.0.2.1", "--log-level", "loud")
	require.ErrorContains(t, err, "unknown log level")
}

func TestConnectPrintsEvents(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	pubPath, privPath := writeKeys(t, dir)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port

	cfgPath := filepath.Join(dir, "boltctl.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`host = "127.0.0.1"
port = %d
connect_timeout = "2s"

[identity]
username = "alice"
public_key_file = %q
private_key_file = %q
`, port, pubPath, privPath)), 0o600))

	served := make(chan []envelope.Envelope, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		buf := frame.NewBuffer(frame.DefaultLimits())
		chunk := make([]byte, 4096)
		var got []envelope.Envelope
		for len(got) < 2 {
			raw, ok, err := buf.Next()
			if err != nil {
				break
			}
			if ok {
				env, err := envelope.Decode(raw)
				if err != nil {
					break
				}
				got = append(got, env)
				continue
			}
			n, err := conn.Read(chunk)
			if err != nil {
				break
			}
			buf.Push(chunk[:n])
		}
		_, _ = conn.Write([]byte(`{"d":{"msg":"welcome"},"e":{"t":"motd","c":1}}`))
		served <- got
	}()

	out, err := run(t, context.Background(), "connect", "--config", cfgPath, "--say", "hello")
	require.ErrorIs(t, err, client.ErrConnection)
	require.Contains(t, out, `"tag":"motd"`)
	require.Contains(t, out, `"data":{"msg":"welcome"}`)

	got := <-served
	require.Len(t, got, 2)
	require.Equal(t, envelope.TagJoin, got[0].Tag())
	require.Equal(t, envelope.TagMsg, got[1].Tag())
	var msg envelope.MessagePayload
	require.NoError(t, got[1].DecodeData(&msg))
	require.Equal(t, "hello", msg.Body)
	require.Equal(t, "alice", msg.User.Nick)
	require.True(t, strings.HasPrefix(msg.User.PubKey, "-----BEGIN PGP PUBLIC KEY BLOCK-----"))
}

func writeKeys(t *testing.T, dir string) (string, string) {
	t.Helper()
	entity, err := openpgp.NewEntity("alice", "test", "alice@example.com", nil)
	require.NoError(t, err)

	pub, err := identity.ArmorPublicKey(entity)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "public.asc")
	require.NoError(t, os.WriteFile(pubPath, []byte(pub), 0o600))

	var priv strings.Builder
	w, err := armor.Encode(&priv, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())
	privPath := filepath.Join(dir, "private.asc")
	require.NoError(t, os.WriteFile(privPath, []byte(priv.String()), 0o600))
	return pubPath, privPath
}
