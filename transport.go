package swi

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Listener defines the control channel as seen by the server.
// The channel only carries bytes from client to server.
type Listener interface {
	// Listen binds the channel name. A failure is fatal to startup and
	// should be reported as a *BindError.
	Listen(ctx context.Context) error

	// Accept blocks until a client connects. It returns ErrListenerClosed
	// once Close has been called.
	Accept() (net.Conn, error)

	// Close stops accepting and releases the channel name
	Close() error

	// Addr returns the channel name
	Addr() string
}

// isExpectedCloseError reports whether err is an ordinary end of a client
// session: EOF, closed connection, broken pipe or connection reset.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

func isTimeoutError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
