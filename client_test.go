package swi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in      string
		want    uint8
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "42", want: 42},
		{in: " 255\n", want: 255},
		{in: "80", want: 80},
		{in: "256", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "0x10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialNoServer(t *testing.T) {
	path := socketPath(t)
	_, err := Dial(context.Background(), path, WithDialTimeout(time.Second))

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, path, connErr.Path)
}

func TestClientNotConnected(t *testing.T) {
	c := newClient("unused")
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Start(context.Background()), ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestClientStrictValues(t *testing.T) {
	c := newClient("unused", WithStrictValues())

	assert.ErrorIs(t, c.Set(context.Background(), 'P'), ErrAmbiguousValue)
	assert.ErrorIs(t, c.Set(context.Background(), 'E'), ErrAmbiguousValue)
	// Other values get as far as the connection check.
	assert.ErrorIs(t, c.Set(context.Background(), 42), ErrNotConnected)
	// START and STOP themselves are never ambiguous.
	assert.ErrorIs(t, c.Start(context.Background()), ErrNotConnected)
}

func TestClientSetTextInvalid(t *testing.T) {
	c := newClient("unused")
	assert.ErrorIs(t, c.SetText(context.Background(), "300"), ErrInvalidValue)
}

func TestClientLenientCollision(t *testing.T) {
	path := socketPath(t)
	sink := &recordingSink{}
	srv := NewUnixServer(path, WithSink(sink))
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown()

	ctx := context.Background()
	client, err := Dial(ctx, path)
	require.NoError(t, err)
	defer client.Close()

	// Without strict mode SET(69) goes out and is read as STOP.
	require.NoError(t, client.Start(ctx))
	require.NoError(t, client.Set(ctx, 69))

	waitForEvents(t, sink, 2)
	assert.Equal(t, []Command{Start(), Stop()}, sink.Commands())
	assert.Equal(t, Snapshot{}, srv.State())
}

func TestClientReconnect(t *testing.T) {
	path := socketPath(t)
	sink := &recordingSink{}
	srv := NewUnixServer(path, WithBusyPolicy(BusyQueue), WithSink(sink), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown()

	ctx := context.Background()
	client, err := Dial(ctx, path, WithClientLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(ctx, 1))
	waitForEvents(t, sink, 1)

	require.NoError(t, client.Reconnect(ctx))
	assert.True(t, client.Connected())
	require.NoError(t, client.Start(ctx))

	waitForEvents(t, sink, 2)
	events := sink.Events()
	assert.NotEqual(t, events[0].ConnID, events[1].ConnID)
	assert.Equal(t, Snapshot{Running: true, Value: 1}, srv.State())
}

func TestClientReconnectFailure(t *testing.T) {
	path := socketPath(t)
	srv := NewUnixServer(path)
	require.NoError(t, srv.Start(context.Background()))

	ctx := context.Background()
	client, err := Dial(ctx, path)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, srv.Shutdown())

	var connErr *ConnectError
	require.ErrorAs(t, client.Reconnect(ctx), &connErr)
	assert.False(t, client.Connected())
	assert.ErrorIs(t, client.Stop(ctx), ErrNotConnected)
}

func TestClientSendAfterClose(t *testing.T) {
	path := socketPath(t)
	srv := NewUnixServer(path)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Shutdown()

	ctx := context.Background()
	client, err := Dial(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, path, client.Path())

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Start(ctx), ErrNotConnected)
}
