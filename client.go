package swi

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client is the sending side of the control channel. It writes one byte
// per command and never reads; the channel has no acknowledgements.
type Client struct {
	path         string
	log          *zap.SugaredLogger
	dialTimeout  time.Duration
	writeTimeout time.Duration
	strict       bool

	mu   sync.Mutex
	conn net.Conn
}

type ClientOption func(c *Client)

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = l.Named("control_client").Sugar()
	}
}

func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.dialTimeout = d
	}
}

// WithWriteTimeout bounds each send when the context has no deadline.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.writeTimeout = d
	}
}

// WithStrictValues makes Set refuse values that the server would read as
// START or STOP.
func WithStrictValues() ClientOption {
	return func(c *Client) {
		c.strict = true
	}
}

func newClient(path string, opts ...ClientOption) *Client {
	c := &Client{
		path:        path,
		log:         zap.NewNop().Sugar(),
		dialTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Dial connects to the control channel at path. A failure is returned as
// a *ConnectError.
func Dial(ctx context.Context, path string, opts ...ClientOption) (*Client, error) {
	c := newClient(path, opts...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connect must be called with c.mu held
func (c *Client) connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		c.log.Debugf("dial error: %s", err)
		return &ConnectError{Path: c.path, Err: err}
	}
	c.conn = conn
	c.log.Debugw("connected", "path", c.path)
	return nil
}

// Reconnect drops the current connection, if any, and dials again. On
// failure the client is left disconnected and Reconnect may be retried.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return c.connect(ctx)
}

// Send writes the wire byte for cmd.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	if c.strict && cmd.Ambiguous() {
		return fmt.Errorf("%w: %d", ErrAmbiguousValue, cmd.Value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	} else if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("sending %s: %w", cmd, err)
	}

	if _, err := c.conn.Write([]byte{cmd.Byte()}); err != nil {
		c.log.Debugw("send failed", "command", cmd.String(), "error", err)
		return fmt.Errorf("sending %s: %w", cmd, err)
	}
	return nil
}

func (c *Client) Start(ctx context.Context) error { return c.Send(ctx, Start()) }

func (c *Client) Stop(ctx context.Context) error { return c.Send(ctx, Stop()) }

func (c *Client) Set(ctx context.Context, v uint8) error { return c.Send(ctx, Set(v)) }

// SetText parses text as a value between 0 and 255 and sends it.
func (c *Client) SetText(ctx context.Context, text string) error {
	v, err := ParseValue(text)
	if err != nil {
		return err
	}
	return c.Set(ctx, v)
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Path() string {
	return c.path
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// ParseValue parses a base-10 integer between 0 and 255.
func ParseValue(text string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(text), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidValue, text)
	}
	return uint8(v), nil
}
