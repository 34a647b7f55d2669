package swi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// StatusClient reads runtime state from a StatusServer.
type StatusClient struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	waitInterval             time.Duration
	customizeRetryableClient func(*retryablehttp.Client)
}

type StatusClientOption func(c *StatusClient)

func WithStatusClientLogger(l *zap.Logger) StatusClientOption {
	return func(c *StatusClient) {
		c.Logger = l.Named("status_client").Sugar()
	}
}

func WithWaitInterval(d time.Duration) StatusClientOption {
	return func(c *StatusClient) {
		c.waitInterval = d
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) StatusClientOption {
	return func(c *StatusClient) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewStatusClient creates a client for the status server at baseURL. A
// bare host:port is treated as http.
func NewStatusClient(baseURL string, opts ...StatusClientOption) *StatusClient {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &StatusClient{
		Logger:       zap.NewNop().Sugar(),
		baseURL:      strings.TrimRight(baseURL, "/"),
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 4
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = 1 * time.Second
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	return c
}

// State fetches the current runtime state.
func (c *StatusClient) State(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/state", nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetching state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body string
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			body = fmt.Errorf("error reading body: %w", err).Error()
		} else {
			body = string(b)
		}
		return Snapshot{}, fmt.Errorf("non-200 HTTP status code %d received when fetching state: %s", resp.StatusCode, body)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding state: %w", err)
	}
	return snap, nil
}

// WaitForServer polls until the status server answers or ctx is done.
func (c *StatusClient) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, err := c.State(ctx)
			if err == nil {
				c.Logger.Debug("status server is up")
				return nil
			}
			c.Logger.Debugf("status server not ready: %s", err)
		}
	}
}

// Watch streams state changes to fn until ctx is done, the server closes
// the stream, or fn returns an error, which Watch then returns.
func (c *StatusClient) Watch(ctx context.Context, fn func(Snapshot) error) error {
	u := c.baseURL + "/state/watch"

	c.Logger.Debugw("dialing WebSocket", "URL", u)
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return fmt.Errorf("dialing WebSocket conn: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		var snap Snapshot
		err := wsjson.Read(ctx, conn, &snap)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading state: %w", err)
		}
		if err := fn(snap); err != nil {
			return err
		}
	}
}
