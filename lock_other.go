//go:build !linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd

package swi

// socketLock is a no-op where flock is unavailable; bind itself then
// decides whether the path is free.
type socketLock struct{}

func acquireSocketLock(path string) (*socketLock, error) {
	return &socketLock{}, nil
}

func (l *socketLock) release() error {
	return nil
}
