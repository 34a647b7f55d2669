package swi

import "context"

// Event describes one applied command.
type Event struct {
	ConnID  string
	Raw     byte
	Command Command
	Before  Snapshot
	After   Snapshot
}

// Sink observes applied commands. Sinks are called from the dispatcher in
// command order and must not block for long.
type Sink interface {
	Apply(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Apply(ctx context.Context, ev Event) error { return f(ctx, ev) }
