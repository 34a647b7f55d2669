//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package swi

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketLock is an exclusive flock on a file next to the socket. It marks
// the socket path as owned by a live server without connecting to it.
type socketLock struct {
	f *os.File
}

func acquireSocketLock(path string) (*socketLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s is held by a running server: %w", path, syscall.EADDRINUSE)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &socketLock{f: f}, nil
}

func (l *socketLock) release() error {
	if l == nil {
		return nil
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
