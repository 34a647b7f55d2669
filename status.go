package swi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// watcherBuffer is how many updates a slow watcher may lag behind before
// intermediate updates are dropped.
const watcherBuffer = 16

// StateSource is anything that can report the current runtime state.
type StateSource interface {
	State() Snapshot
}

type StateSourceFunc func() Snapshot

func (f StateSourceFunc) State() Snapshot { return f() }

// StatusServer exposes the runtime state over HTTP. It is read-only: the
// control channel stays the only way to change state.
//
// Routes:
//
//	GET /state        current state as JSON
//	GET /state/watch  WebSocket; the current state, then one message per change
//
// StatusServer is also a Sink so that it learns about changes.
type StatusServer struct {
	log    *zap.SugaredLogger
	source StateSource
	router *httprouter.Router

	mu         sync.Mutex
	watchers   map[chan Snapshot]struct{}
	closed     bool
	httpServer *http.Server
}

type StatusOption func(s *StatusServer)

func WithStatusLogger(l *zap.Logger) StatusOption {
	return func(s *StatusServer) {
		s.log = l.Named("status_server").Sugar()
	}
}

func NewStatusServer(source StateSource, opts ...StatusOption) *StatusServer {
	s := &StatusServer{
		log:      zap.NewNop().Sugar(),
		source:   source,
		router:   httprouter.New(),
		watchers: map[chan Snapshot]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}

	s.router.GET("/state", s.getState)
	s.router.GET("/state/watch", s.watchState)
	return s
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Apply forwards the post-command state to every watcher.
func (s *StatusServer) Apply(ctx context.Context, ev Event) error {
	s.broadcast(ev.After)
	return nil
}

func (s *StatusServer) broadcast(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Watcher is behind: drop its oldest update so the newest one
		// always gets through.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *StatusServer) subscribe() chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, watcherBuffer)
	if s.closed {
		close(ch)
		return ch
	}
	s.watchers[ch] = struct{}{}
	return ch
}

func (s *StatusServer) unsubscribe(ch chan Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watchers[ch]; ok {
		delete(s.watchers, ch)
		close(ch)
	}
}

func (s *StatusServer) getState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	b, err := json.Marshal(s.source.State())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func (s *StatusServer) watchState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.log.Debugf("watch WebSocket accept error: %s", err)
		return
	}
	defer wsConn.Close(websocket.StatusInternalError, "watch ended")
	s.log.Debug("accepted watch WebSocket conn")

	// Subscribe before reading the current state so no change is missed.
	ch := s.subscribe()
	defer s.unsubscribe(ch)

	ctx := wsConn.CloseRead(r.Context())

	if err := wsjson.Write(ctx, wsConn, s.source.State()); err != nil {
		s.log.Debugf("error writing initial state: %s", err)
		return
	}

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				wsConn.Close(websocket.StatusGoingAway, "status server closing")
				return
			}
			if err := wsjson.Write(ctx, wsConn, snap); err != nil {
				s.log.Debugf("error writing state: %s", err)
				return
			}
		case <-ctx.Done():
			s.log.Debug("watch WebSocket closed by client")
			return
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. It returns nil after a clean
// shutdown.
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = server
	s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		// Watch handlers are hijacked connections that http.Server.Shutdown
		// does not wait for; closing the watchers ends them.
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Debugf("error shutting down status server: %s", err)
		}
	}()

	s.log.Infow("status server listening", "addr", ln.Addr().String())
	err := server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close disconnects all watchers. Later watchers are closed immediately.
func (s *StatusServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for ch := range s.watchers {
		close(ch)
		delete(s.watchers, ch)
	}
	return nil
}
