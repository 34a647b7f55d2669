package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	swi "github.com/TheAlpha16/swi-go"
	"github.com/TheAlpha16/swi-go/internal/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "swictl",
		Usage: "send commands to the swi control channel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "socket",
				Usage:   "Path of the control socket.",
				Value:   swi.DefaultSocketPath,
				EnvVars: []string{"SWI_SOCKET"},
			},
			&cli.DurationFlag{
				Name:  "write-timeout",
				Usage: "Give up on a send after this long.",
				Value: 0,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. One of [debug,info,warn,error].",
				Value: "warn",
			},
			&cli.BoolFlag{
				Name:  "log-dev",
				Usage: "Human-readable development logging.",
				Value: true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "send START",
				Action: oneShot(func(ctx context.Context, c *swi.Client, _ *cli.Context) error { return c.Start(ctx) }),
			},
			{
				Name:   "stop",
				Usage:  "send STOP",
				Action: oneShot(func(ctx context.Context, c *swi.Client, _ *cli.Context) error { return c.Stop(ctx) }),
			},
			{
				Name:      "set",
				Usage:     "send a value",
				ArgsUsage: "<0-255>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "strict",
						Usage: "Refuse values that the daemon would read as START or STOP.",
					},
				},
				Action: oneShot(func(ctx context.Context, c *swi.Client, cctx *cli.Context) error {
					if cctx.NArg() != 1 {
						return errors.New("set takes exactly one value")
					}
					return c.SetText(ctx, cctx.Args().First())
				}),
			},
			{
				Name:  "shell",
				Usage: "interactive control session (start, stop, set N, reconnect, quit)",
				Action: func(cctx *cli.Context) error {
					logger, err := newLogger(cctx)
					if err != nil {
						return err
					}
					defer logger.Sync()

					ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					client, err := swi.Dial(ctx, cctx.String("socket"), clientOptions(cctx, logger)...)
					if err != nil {
						return err
					}
					defer client.Close()

					return runShell(ctx, client, os.Stdin, os.Stdout, logger)
				},
			},
			{
				Name:  "status",
				Usage: "print the daemon state from its status API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "status-addr",
						Usage:    "Address of the daemon's status API.",
						Required: true,
					},
				},
				Action: func(cctx *cli.Context) error {
					logger, err := newLogger(cctx)
					if err != nil {
						return err
					}
					defer logger.Sync()

					client := swi.NewStatusClient(cctx.String("status-addr"), swi.WithStatusClientLogger(logger))
					snap, err := client.State(cctx.Context)
					if err != nil {
						return err
					}
					return printJSON(snap)
				},
			},
			{
				Name:  "watch",
				Usage: "stream state changes from the status API or from Valkey",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status-addr",
						Usage: "Address of the daemon's status API.",
					},
					&cli.StringFlag{
						Name:  "valkey-addr",
						Usage: "Address of the Valkey server the daemon publishes to.",
					},
					&cli.StringFlag{
						Name:  "valkey-channel",
						Usage: "Valkey channel for state changes.",
						Value: swi.DefaultStateChannel,
					},
				},
				Action: watch,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(cctx *cli.Context) (*zap.Logger, error) {
	return logging.New(cctx.String("log-level"), cctx.Bool("log-dev"))
}

func clientOptions(cctx *cli.Context, logger *zap.Logger) []swi.ClientOption {
	opts := []swi.ClientOption{
		swi.WithClientLogger(logger),
		swi.WithWriteTimeout(cctx.Duration("write-timeout")),
	}
	if cctx.Bool("strict") {
		opts = append(opts, swi.WithStrictValues())
	}
	return opts
}

// oneShot connects, sends a single command and disconnects.
func oneShot(send func(ctx context.Context, c *swi.Client, cctx *cli.Context) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		logger, err := newLogger(cctx)
		if err != nil {
			return err
		}
		defer logger.Sync()

		client, err := swi.Dial(cctx.Context, cctx.String("socket"), clientOptions(cctx, logger)...)
		if err != nil {
			return err
		}
		defer client.Close()

		return send(cctx.Context, client, cctx)
	}
}

func watch(cctx *cli.Context) error {
	logger, err := newLogger(cctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case cctx.String("status-addr") != "":
		client := swi.NewStatusClient(cctx.String("status-addr"), swi.WithStatusClientLogger(logger))
		err = client.Watch(ctx, func(snap swi.Snapshot) error {
			return printJSON(snap)
		})

	case cctx.String("valkey-addr") != "":
		client, cerr := swi.NewValkeyClient(cctx.String("valkey-addr"))
		if cerr != nil {
			return fmt.Errorf("connecting to valkey: %w", cerr)
		}
		defer client.Close()
		err = swi.WatchValkeyState(ctx, client, cctx.String("valkey-channel"), logger, func(msg swi.StateMessage) {
			if perr := printJSON(msg); perr != nil {
				logger.Sugar().Debugf("error printing state: %s", perr)
			}
		})

	default:
		return errors.New("one of --status-addr or --valkey-addr is required")
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(b))
	return err
}
