package swi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SerialLineKind classifies a line sent by the microcontroller.
type SerialLineKind int

const (
	LineUnknown SerialLineKind = iota
	LineKeyDown
	LineKeyUp
	LinePeripheralInput
	LineDebug
)

func (k SerialLineKind) String() string {
	switch k {
	case LineKeyDown:
		return "keydown"
	case LineKeyUp:
		return "keyup"
	case LinePeripheralInput:
		return "pinput"
	case LineDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// SerialLine is one parsed line from the serial link.
type SerialLine struct {
	Kind SerialLineKind
	// Key is the key code of a KEYDOWN or KEYUP line
	Key uint8
	// Text is the line from its keyword onward, or the whole line when no
	// keyword matched.
	Text string
}

// Keywords are matched anywhere in the line, in this order. A key line
// carries the key code as the byte following the keyword and one separator.
var serialKeywords = []struct {
	word string
	kind SerialLineKind
}{
	{"KEYDOWN", LineKeyDown},
	{"KEYUP", LineKeyUp},
	{"PINPUT", LinePeripheralInput},
	{"DEBUG", LineDebug},
}

// ParseSerialLine classifies line. A key line too short to hold a key code
// is LineUnknown.
func ParseSerialLine(line string) SerialLine {
	line = strings.TrimRight(line, "\r\n")

	for _, kw := range serialKeywords {
		i := strings.Index(line, kw.word)
		if i < 0 {
			continue
		}
		text := line[i:]
		if kw.kind == LineKeyDown || kw.kind == LineKeyUp {
			pos := len(kw.word) + 1
			if len(text) <= pos {
				return SerialLine{Kind: LineUnknown, Text: line}
			}
			return SerialLine{Kind: kw.kind, Key: text[pos], Text: text}
		}
		return SerialLine{Kind: kw.kind, Text: text}
	}
	return SerialLine{Kind: LineUnknown, Text: line}
}

// KeyEmitter injects key events into the host input system.
type KeyEmitter interface {
	EmitKey(code uint16, down bool) error
}

// SerialReader reads newline-terminated lines from the microcontroller and
// routes them: key lines to a KeyEmitter, DEBUG lines to the log and PINPUT
// lines to a callback.
type SerialReader struct {
	r       io.Reader
	keys    KeyEmitter
	onInput func(line string)
	log     *zap.SugaredLogger
}

type SerialReaderOption func(s *SerialReader)

// WithKeyEmitter sets where key lines go. Without one they are only logged.
func WithKeyEmitter(k KeyEmitter) SerialReaderOption {
	return func(s *SerialReader) {
		s.keys = k
	}
}

func WithPeripheralInput(fn func(line string)) SerialReaderOption {
	return func(s *SerialReader) {
		s.onInput = fn
	}
}

func WithSerialLogger(l *zap.Logger) SerialReaderOption {
	return func(s *SerialReader) {
		s.log = l.Named("serial_reader").Sugar()
	}
}

func NewSerialReader(r io.Reader, opts ...SerialReaderOption) *SerialReader {
	s := &SerialReader{
		r:   r,
		log: zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run reads lines until EOF, a read error or ctx is done. Cancellation
// unblocks the pending read through a read deadline, or by closing the
// reader when it has no deadlines; Run then returns nil.
func (s *SerialReader) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.interrupt()
		case <-stop:
		}
	}()

	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		s.handle(ParseSerialLine(scanner.Text()))
	}

	err := scanner.Err()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading serial lines: %w", err)
	}
	return nil
}

func (s *SerialReader) interrupt() {
	if d, ok := s.r.(interface{ SetReadDeadline(time.Time) error }); ok {
		err := d.SetReadDeadline(time.Now())
		if err == nil {
			return
		}
		if !errors.Is(err, os.ErrNoDeadline) {
			s.log.Debugf("error setting read deadline: %s", err)
		}
	}
	if c, ok := s.r.(io.Closer); ok {
		c.Close()
	}
}

func (s *SerialReader) handle(line SerialLine) {
	switch line.Kind {
	case LineKeyDown, LineKeyUp:
		down := line.Kind == LineKeyDown
		if s.keys == nil {
			s.log.Debugw("no key emitter, dropping key event", "key", line.Key, "down", down)
			return
		}
		if err := s.keys.EmitKey(uint16(line.Key), down); err != nil {
			s.log.Warnw("key event failed", "key", line.Key, "down", down, "error", err)
			return
		}
		s.log.Debugw("sent key event", "key", line.Key, "down", down)

	case LinePeripheralInput:
		s.log.Debugw("peripheral input", "line", line.Text)
		if s.onInput != nil {
			s.onInput(line.Text)
		}

	case LineDebug:
		s.log.Infow("device debug", "line", line.Text)

	default:
		s.log.Debugw("unrecognised serial line", "line", line.Text)
	}
}
