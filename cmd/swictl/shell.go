package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	swi "github.com/TheAlpha16/swi-go"
	"go.uber.org/zap"
)

const shellHelp = `commands:
  start        send START
  stop         send STOP
  set N | N    send the value N (0-255)
  reconnect    drop the connection and dial again
  quit         leave the shell`

// runShell reads one command per line from in until EOF or quit. Neither a
// failed send nor a failed reconnect ends the shell; "reconnect" may be
// retried until the daemon is back.
func runShell(ctx context.Context, client *swi.Client, in io.Reader, out io.Writer, logger *zap.Logger) error {
	sugar := logger.Named("shell").Sugar()
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			return nil
		case "help", "?":
			fmt.Fprintln(out, shellHelp)
			continue
		case "reconnect":
			if err := client.Reconnect(ctx); err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			fmt.Fprintf(out, "connected to %s\n", client.Path())
			continue
		case "start":
			err = client.Start(ctx)
		case "stop":
			err = client.Stop(ctx)
		case "set":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: set N")
				continue
			}
			err = client.SetText(ctx, fields[1])
		default:
			if len(fields) != 1 {
				fmt.Fprintf(out, "unknown command %q\n", fields[0])
				continue
			}
			err = client.SetText(ctx, fields[0])
		}

		switch {
		case err == nil:
		case errors.Is(err, swi.ErrInvalidValue),
			errors.Is(err, swi.ErrAmbiguousValue),
			errors.Is(err, swi.ErrNotConnected):
			fmt.Fprintln(out, err)
		default:
			sugar.Debugf("send error: %s", err)
		}
	}
}
