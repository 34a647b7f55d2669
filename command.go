package swi

import (
	"context"
	"fmt"
)

// Reserved command bytes. Every other byte value is a SET payload.
const (
	ByteStart byte = 'P'
	ByteStop  byte = 'E'
)

type CommandKind uint8

const (
	CommandSet CommandKind = iota
	CommandStart
	CommandStop
)

func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandSet:
		return "set"
	default:
		return fmt.Sprintf("CommandKind(%d)", uint8(k))
	}
}

// Command represents one decoded control instruction.
// Value is only meaningful for CommandSet.
type Command struct {
	Kind  CommandKind `json:"kind"`
	Value uint8       `json:"value,omitempty"`
}

func Start() Command { return Command{Kind: CommandStart} }

func Stop() Command { return Command{Kind: CommandStop} }

func Set(v uint8) Command { return Command{Kind: CommandSet, Value: v} }

// Decode maps one wire byte to a Command. It never fails.
func Decode(b byte) Command {
	switch b {
	case ByteStart:
		return Start()
	case ByteStop:
		return Stop()
	default:
		return Set(b)
	}
}

// Byte returns the wire encoding of c.
func (c Command) Byte() byte {
	switch c.Kind {
	case CommandStart:
		return ByteStart
	case CommandStop:
		return ByteStop
	default:
		return c.Value
	}
}

// Ambiguous reports whether c is a SET whose value collides with a reserved
// command byte. Such a command is received as START or STOP.
func (c Command) Ambiguous() bool {
	return c.Kind == CommandSet && (c.Value == ByteStart || c.Value == ByteStop)
}

func (c Command) String() string {
	if c.Kind == CommandSet {
		return fmt.Sprintf("set(%d)", c.Value)
	}
	return c.Kind.String()
}

// Handler defines the function signature for applying a command
type Handler func(ctx context.Context, command Command) error
