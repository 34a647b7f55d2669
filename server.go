package swi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = 1 * time.Second
)

// Server is the privileged side of the control channel
type Server interface {
	// Start binds the listener and begins accepting clients. A bind
	// failure is returned as a *BindError.
	Start(ctx context.Context) error

	// Serve starts the server and blocks until ctx is cancelled, then
	// shuts it down.
	Serve(ctx context.Context) error

	Shutdown() error
	IsRunning() bool

	// State returns a consistent copy of the runtime state
	State() Snapshot

	// Connected reports whether a client connection is being served
	Connected() bool

	Addr() string
}

// session is one accepted client connection
type session struct {
	id   string
	conn net.Conn
	done chan struct{}
}

type serverImpl struct {
	listener Listener
	registry Registry
	state    *State
	options  Options
	log      *zap.SugaredLogger

	// registerErr is the first failed WithHandler registration
	registerErr error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.RWMutex

	// dispatchMu serialises command application and sink delivery
	dispatchMu sync.Mutex

	connMu sync.Mutex
	active *session
}

// Start binds the listener and launches the accept loop
func (s *serverImpl) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrServerAlreadyStarted
	}
	if s.registerErr != nil {
		return s.registerErr
	}

	if err := s.listener.Listen(ctx); err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.started = true
	s.log.Infow("control server listening",
		"path", s.listener.Addr(),
		"busy_policy", s.options.BusyPolicy.String(),
		"read_timeout", s.options.ReadTimeout,
	)
	return nil
}

func (s *serverImpl) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Shutdown()
}

// acceptLoop accepts clients until the listener is closed. Every
// connection, however it ends, returns the loop to accepting.
func (s *serverImpl) acceptLoop() {
	var retryDelay time.Duration

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, ErrListenerClosed) || s.shouldStop() {
				return
			}

			// Transient accept failures (fd exhaustion and the like)
			// retry with backoff
			if retryDelay == 0 {
				retryDelay = minAcceptDelay
			} else {
				retryDelay *= 2
			}
			if retryDelay > maxAcceptDelay {
				retryDelay = maxAcceptDelay
			}
			s.log.Warnw("accept failed", "error", err, "retry_in", retryDelay)
			s.options.OnError(s.ctx, nil, err)

			select {
			case <-time.After(retryDelay):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		retryDelay = 0

		s.admit(&session{
			id:   uuid.NewString(),
			conn: conn,
			done: make(chan struct{}),
		})
	}
}

// admit applies the busy policy to a freshly accepted connection
func (s *serverImpl) admit(sess *session) {
	log := s.log.With("conn_id", sess.id)

	switch s.options.BusyPolicy {
	case BusyQueue:
		// Served inline: the next Accept happens once this client is gone,
		// so later clients wait in the listen backlog.
		s.claim(sess)
		if s.shouldStop() {
			s.drop(sess)
			return
		}
		s.serveConn(sess)

	case BusyReplace:
		s.connMu.Lock()
		prev := s.active
		s.active = sess
		s.connMu.Unlock()

		if prev != nil {
			log.Infow("replacing active connection", "previous_conn_id", prev.id)
			prev.conn.Close()
			<-prev.done
		}
		if s.shouldStop() {
			s.drop(sess)
			return
		}
		s.spawn(sess)

	default:
		if !s.claim(sess) {
			log.Infow("rejecting connection, another client is active")
			sess.conn.Close()
			return
		}
		if s.shouldStop() {
			s.drop(sess)
			return
		}
		s.spawn(sess)
	}
}

func (s *serverImpl) spawn(sess *session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serveConn(sess)
	}()
}

// claim makes sess the active connection if none is active
func (s *serverImpl) claim(sess *session) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.active != nil {
		return false
	}
	s.active = sess
	return true
}

func (s *serverImpl) release(sess *session) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.active == sess {
		s.active = nil
	}
}

func (s *serverImpl) drop(sess *session) {
	sess.conn.Close()
	s.release(sess)
	close(sess.done)
}

// serveConn reads one byte at a time and dispatches each as a command
// until the client goes away.
func (s *serverImpl) serveConn(sess *session) {
	defer close(sess.done)
	defer s.release(sess)
	defer sess.conn.Close()

	log := s.log.With("conn_id", sess.id)
	log.Debug("client connected")

	r := bufio.NewReader(sess.conn)
	for {
		if s.options.ReadTimeout > 0 {
			sess.conn.SetReadDeadline(time.Now().Add(s.options.ReadTimeout))
		}

		b, err := r.ReadByte()
		if err != nil {
			s.endSession(log, err)
			return
		}
		if s.shouldStop() {
			return
		}

		s.dispatch(sess.id, b)
	}
}

func (s *serverImpl) endSession(log *zap.SugaredLogger, err error) {
	switch {
	case errors.Is(err, io.EOF):
		log.Debug("client disconnected")
	case s.shouldStop() || isExpectedCloseError(err):
		log.Debugw("connection closed", "error", err)
	case isTimeoutError(err):
		log.Infow("closing idle connection", "read_timeout", s.options.ReadTimeout)
	default:
		log.Warnw("read failed, dropping connection", "error", err)
		s.options.OnError(s.ctx, nil, err)
	}
}

// dispatch decodes b, applies it to the runtime state, runs the handler
// registered for its kind and hands the resulting event to every sink.
func (s *serverImpl) dispatch(connID string, b byte) {
	cmd := Decode(b)

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	before, after := s.state.Apply(cmd)

	// A failing handler is reported; the state change stands and the sinks
	// still run.
	err := s.registry.Execute(s.ctx, cmd)
	if err != nil && !errors.Is(err, ErrHandlerNotFound) {
		s.log.Warnw("handler failed", "conn_id", connID, "command", cmd.String(), "error", err)
		s.options.OnError(s.ctx, &cmd, err)
	}

	s.log.Debugw("applied command",
		"conn_id", connID,
		"raw", b,
		"command", cmd.String(),
		"running", after.Running,
		"value", after.Value,
	)

	ev := Event{
		ConnID:  connID,
		Raw:     b,
		Command: cmd,
		Before:  before,
		After:   after,
	}
	for _, sink := range s.options.Sinks {
		if err := sink.Apply(s.ctx, ev); err != nil {
			s.log.Warnw("sink failed", "conn_id", connID, "command", cmd.String(), "error", err)
			s.options.OnError(s.ctx, &cmd, err)
		}
	}
}

func (s *serverImpl) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

func (s *serverImpl) State() Snapshot {
	return s.state.Snapshot()
}

func (s *serverImpl) Connected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.active != nil
}

func (s *serverImpl) Addr() string {
	return s.listener.Addr()
}

// Shutdown stops accepting, closes the active connection and waits for
// all goroutines to finish.
func (s *serverImpl) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.cancel()
	err := s.listener.Close()

	s.connMu.Lock()
	if s.active != nil {
		s.active.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()

	s.started = false
	s.log.Infow("control server stopped", "path", s.listener.Addr())
	return err
}

func (s *serverImpl) shouldStop() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// NewServer creates a server on the provided listener
func NewServer(listener Listener, opts ...Option) Server {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return newServer(listener, options)
}

// NewUnixServer creates a server on a Unix socket at path
func NewUnixServer(path string, opts ...Option) Server {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	listener := NewUnixListener(path,
		WithSocketMode(options.SocketMode),
		WithListenerLogger(options.Logger),
	)
	return newServer(listener, options)
}

func newServer(listener Listener, options Options) *serverImpl {
	s := &serverImpl{
		listener: listener,
		registry: NewRegistry(),
		state:    NewState(options.InitialState),
		options:  options,
		log:      options.Logger.Named("control_server").Sugar(),
	}

	for _, kh := range options.Handlers {
		if err := s.registry.Register(kh.Kind, kh.Handler); err != nil && s.registerErr == nil {
			s.registerErr = fmt.Errorf("registering %s handler: %w", kh.Kind, err)
		}
	}
	return s
}
