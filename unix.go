package swi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// DefaultSocketPath is the well-known control channel name.
const DefaultSocketPath = "/dev/swi"

// DefaultSocketMode is applied to the socket file after binding.
const DefaultSocketMode os.FileMode = 0o660

// UnixListener is a Listener on a filesystem-namespaced Unix stream socket.
type UnixListener struct {
	path string
	mode os.FileMode
	log  *zap.SugaredLogger

	mu   sync.Mutex
	ln   *net.UnixListener
	lock *socketLock
}

type UnixOption func(u *UnixListener)

// WithSocketMode sets the permission bits applied to the socket file.
// A zero mode leaves the file as created.
func WithSocketMode(mode os.FileMode) UnixOption {
	return func(u *UnixListener) {
		u.mode = mode
	}
}

func WithListenerLogger(l *zap.Logger) UnixOption {
	return func(u *UnixListener) {
		u.log = l.Named("unix_listener").Sugar()
	}
}

func NewUnixListener(path string, opts ...UnixOption) *UnixListener {
	u := &UnixListener{
		path: path,
		mode: DefaultSocketMode,
		log:  zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Listen binds the socket path.
//
// Ownership of the path is decided by an exclusive lock on path+".lock",
// held until Close. While another server holds it Listen fails with a
// *BindError wrapping EADDRINUSE and the live socket is never touched. A
// leftover socket file from a server that died is removed before binding;
// a path that is not a socket at all is left alone and reported.
func (u *UnixListener) Listen(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.ln != nil {
		return &BindError{Path: u.path, Err: syscall.EADDRINUSE}
	}

	lock, err := acquireSocketLock(u.path + ".lock")
	if err != nil {
		return &BindError{Path: u.path, Err: err}
	}

	if err := u.removeStale(); err != nil {
		lock.release()
		return &BindError{Path: u.path, Err: err}
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "unix", u.path)
	if err != nil {
		lock.release()
		return &BindError{Path: u.path, Err: err}
	}
	ln := l.(*net.UnixListener)

	if u.mode != 0 {
		if err := os.Chmod(u.path, u.mode); err != nil {
			ln.Close()
			lock.release()
			return &BindError{Path: u.path, Err: fmt.Errorf("chmod socket: %w", err)}
		}
	}

	u.ln = ln
	u.lock = lock
	u.log.Debugw("bound control socket", "path", u.path, "mode", u.mode)
	return nil
}

// removeStale must be called with the socket lock held
func (u *UnixListener) removeStale() error {
	info, err := os.Lstat(u.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("path exists and is not a socket: %w", syscall.EEXIST)
	}

	u.log.Infow("removing stale control socket", "path", u.path)
	if err := os.Remove(u.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	return nil
}

func (u *UnixListener) Accept() (net.Conn, error) {
	u.mu.Lock()
	ln := u.ln
	u.mu.Unlock()

	if ln == nil {
		return nil, ErrListenerClosed
	}
	conn, err := ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return conn, nil
}

// Close stops accepting, unlinks the socket file and releases the lock.
func (u *UnixListener) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.ln == nil {
		return nil
	}
	err := u.ln.Close()
	u.ln = nil
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	// The lock file stays behind; unlinking it would let two servers lock
	// different inodes for the same path.
	if lerr := u.lock.release(); lerr != nil && err == nil {
		err = lerr
	}
	u.lock = nil
	return err
}

func (u *UnixListener) Addr() string {
	return u.path
}
