package swi

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// BusyPolicy decides what happens to a client that connects while another
// client's connection is still being served.
type BusyPolicy int

const (
	// BusyReject closes the newcomer immediately.
	BusyReject BusyPolicy = iota
	// BusyQueue leaves the newcomer pending until the active connection ends.
	BusyQueue
	// BusyReplace closes the active connection and serves the newcomer.
	BusyReplace
)

func (p BusyPolicy) String() string {
	switch p {
	case BusyReject:
		return "reject"
	case BusyQueue:
		return "queue"
	case BusyReplace:
		return "replace"
	default:
		return fmt.Sprintf("BusyPolicy(%d)", int(p))
	}
}

func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch s {
	case "reject", "":
		return BusyReject, nil
	case "queue":
		return BusyQueue, nil
	case "replace":
		return BusyReplace, nil
	default:
		return 0, fmt.Errorf("unsupported busy policy %q", s)
	}
}

// ErrorHandler is a user-provided callback for connection and sink errors.
// cmd is nil for errors that are not tied to a command.
type ErrorHandler func(ctx context.Context, cmd *Command, err error)
type Option func(*Options)

type Options struct {
	BusyPolicy   BusyPolicy
	ReadTimeout  time.Duration
	InitialState Snapshot
	SocketMode   os.FileMode
	Sinks        []Sink
	Handlers     []KindHandler
	Logger       *zap.Logger
	OnError      ErrorHandler
}

func defaultOptions() Options {
	return Options{
		BusyPolicy: BusyReject,
		SocketMode: DefaultSocketMode,
		Logger:     zap.NewNop(),
		OnError: func(ctx context.Context, cmd *Command, err error) {
			// Default: no-op
		},
	}
}

func WithBusyPolicy(p BusyPolicy) Option {
	return func(o *Options) {
		o.BusyPolicy = p
	}
}

// WithReadTimeout closes a connection that sends nothing for d.
// Zero disables the timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.ReadTimeout = d
		}
	}
}

func WithInitialState(s Snapshot) Option {
	return func(o *Options) {
		o.InitialState = s
	}
}

// WithServerSocketMode sets the socket file mode used by NewUnixServer.
func WithServerSocketMode(mode os.FileMode) Option {
	return func(o *Options) {
		o.SocketMode = mode
	}
}

// WithSink adds sinks that observe every applied command, in order.
func WithSink(sinks ...Sink) Option {
	return func(o *Options) {
		o.Sinks = append(o.Sinks, sinks...)
	}
}

// KindHandler pairs a Handler with the command kind it serves
type KindHandler struct {
	Kind    CommandKind
	Handler Handler
}

// WithHandler runs h for every command of the given kind, after the command
// has been applied to the runtime state and before the sinks see it. At
// most one handler may be registered per kind; Start reports a duplicate.
func WithHandler(kind CommandKind, h Handler) Option {
	return func(o *Options) {
		o.Handlers = append(o.Handlers, KindHandler{Kind: kind, Handler: h})
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

func WithOnError(handler ErrorHandler) Option {
	return func(o *Options) {
		if handler != nil {
			o.OnError = handler
		}
	}
}
