package swi

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// socketPath returns a path short enough for sun_path.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "swi")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "swi.sock")
}

func TestUnixListenerBindsWithMode(t *testing.T) {
	path := socketPath(t)
	ln := NewUnixListener(path, WithSocketMode(0o600), WithListenerLogger(zaptest.NewLogger(t)))
	require.NoError(t, ln.Listen(context.Background()))
	defer ln.Close()

	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSocket)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, path, ln.Addr())
}

func TestUnixListenerAccept(t *testing.T) {
	path := socketPath(t)
	ln := NewUnixListener(path)
	require.NoError(t, ln.Listen(context.Background()))
	defer ln.Close()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer client.Close()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	_, err = client.Write([]byte{'P'})
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, byte('P'), buf[0])
}

func TestUnixListenerLivePathInUse(t *testing.T) {
	path := socketPath(t)
	first := NewUnixListener(path)
	require.NoError(t, first.Listen(context.Background()))
	defer first.Close()

	second := NewUnixListener(path)
	err := second.Listen(context.Background())

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, path, bindErr.Path)
	assert.ErrorIs(t, err, syscall.EADDRINUSE)

	// The live socket was left in place.
	_, err = os.Lstat(path)
	assert.NoError(t, err)
}

func TestUnixListenerListenTwice(t *testing.T) {
	ln := NewUnixListener(socketPath(t))
	require.NoError(t, ln.Listen(context.Background()))
	defer ln.Close()

	assert.ErrorIs(t, ln.Listen(context.Background()), syscall.EADDRINUSE)
}

func TestUnixListenerRefusesNonSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0o644))

	err := NewUnixListener(path).Listen(context.Background())

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.ErrorIs(t, err, syscall.EEXIST)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestUnixListenerReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)

	// Leave a socket file behind with nobody listening on it
	stale, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	stale.SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	_, err = os.Lstat(path)
	require.NoError(t, err)

	ln := NewUnixListener(path, WithListenerLogger(zaptest.NewLogger(t)))
	require.NoError(t, ln.Listen(context.Background()))
	defer ln.Close()

	client, err := net.Dial("unix", path)
	require.NoError(t, err)
	client.Close()
}

func TestUnixListenerCloseUnlinks(t *testing.T) {
	path := socketPath(t)
	ln := NewUnixListener(path)
	require.NoError(t, ln.Listen(context.Background()))
	require.NoError(t, ln.Close())

	_, err := os.Lstat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = ln.Accept()
	assert.ErrorIs(t, err, ErrListenerClosed)
	assert.NoError(t, ln.Close())
}

func TestUnixServerEndToEnd(t *testing.T) {
	path := socketPath(t)
	sink := &recordingSink{}
	srv := NewUnixServer(path, WithLogger(zaptest.NewLogger(t)), WithSink(sink))
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown()
	assert.Equal(t, path, srv.Addr())

	ctx := context.Background()
	client, err := Dial(ctx, path, WithClientLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	require.NoError(t, client.Start(ctx))
	require.NoError(t, client.Set(ctx, 42))
	require.NoError(t, client.Stop(ctx))
	require.NoError(t, client.Close())

	waitForEvents(t, sink, 3)
	assert.Equal(t, []Command{Start(), Set(42), Stop()}, sink.Commands())
	assert.Equal(t, Snapshot{Running: false, Value: 42}, srv.State())

	// A new client is served once the first has gone.
	require.Eventually(t, func() bool { return !srv.Connected() }, waitFor, tick)
	client, err = Dial(ctx, path)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetText(ctx, "7"))

	waitForEvents(t, sink, 4)
	assert.Equal(t, Snapshot{Running: false, Value: 7}, srv.State())
}

func TestUnixServerSecondInstanceFailsToBind(t *testing.T) {
	path := socketPath(t)
	first := NewUnixServer(path, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, first.Start(context.Background()))
	defer first.Shutdown()

	second := NewUnixServer(path)
	err := second.Start(context.Background())

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.False(t, second.IsRunning())

	// The failed start never connected to the first instance.
	assert.False(t, first.Connected())

	ctx := context.Background()
	client, err := Dial(ctx, path)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Start(ctx))
	require.Eventually(t, func() bool { return first.State().Running }, waitFor, tick)
}

func TestUnixServerShutdownRemovesSocket(t *testing.T) {
	path := socketPath(t)
	srv := NewUnixServer(path, WithServerSocketMode(0o666))
	require.NoError(t, srv.Start(context.Background()))

	info, err := os.Lstat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o666), info.Mode().Perm())

	require.NoError(t, srv.Shutdown())
	_, err = os.Lstat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestUnixServerFailedStartKeepsActiveClient(t *testing.T) {
	path := socketPath(t)
	sink := &recordingSink{}
	first := NewUnixServer(path,
		WithBusyPolicy(BusyReplace),
		WithSink(sink),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, first.Start(context.Background()))
	defer first.Shutdown()

	ctx := context.Background()
	client, err := Dial(ctx, path)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Set(ctx, 1))
	waitForEvents(t, sink, 1)

	second := NewUnixServer(path)
	err = second.Start(context.Background())
	require.ErrorIs(t, err, syscall.EADDRINUSE)

	// The active session survives and its later bytes are still applied.
	require.NoError(t, client.Set(ctx, 2))
	waitForEvents(t, sink, 2)
	assert.Equal(t, Snapshot{Value: 2}, first.State())

	events := sink.Events()
	assert.Equal(t, events[0].ConnID, events[1].ConnID)
}

func TestUnixListenerReleasesLockOnClose(t *testing.T) {
	path := socketPath(t)
	first := NewUnixListener(path)
	require.NoError(t, first.Listen(context.Background()))
	require.NoError(t, first.Close())

	second := NewUnixListener(path)
	require.NoError(t, second.Listen(context.Background()))
	defer second.Close()
}

func TestUnixListenerFailedBindReleasesLock(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ln := NewUnixListener(path)
	require.ErrorIs(t, ln.Listen(context.Background()), syscall.EEXIST)

	// Once the path is cleared the same listener can bind.
	require.NoError(t, os.Remove(path))
	require.NoError(t, ln.Listen(context.Background()))
	defer ln.Close()
}
