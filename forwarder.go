package swi

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Forwarder relays every applied command byte downstream as a two-byte
// line: the raw byte followed by '\n'. This is what the microcontroller on
// the other end of the serial link expects.
type Forwarder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewForwarder(w io.Writer) *Forwarder {
	return &Forwarder{w: w}
}

func (f *Forwarder) Apply(ctx context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.w.Write([]byte{ev.Raw, '\n'}); err != nil {
		return fmt.Errorf("forwarding %s: %w", ev.Command, err)
	}
	return nil
}

// Close closes the underlying writer if it is an io.Closer.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
