package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	swi "github.com/TheAlpha16/swi-go"
	"github.com/TheAlpha16/swi-go/internal/config"
	"github.com/TheAlpha16/swi-go/internal/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "swid",
		Usage: "the privileged daemon behind the swi control channel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file. Flags override its values.",
				EnvVars: []string{config.EnvVar},
			},
			&cli.StringFlag{
				Name:  "socket",
				Usage: "Path of the control socket.",
				Value: swi.DefaultSocketPath,
			},
			&cli.StringFlag{
				Name:  "socket-mode",
				Usage: "Permission bits for the control socket, in octal.",
				Value: "0660",
			},
			&cli.StringFlag{
				Name:  "busy-policy",
				Usage: "What to do with a client that connects while another is active. One of [reject,queue,replace].",
				Value: "reject",
			},
			&cli.DurationFlag{
				Name:  "read-timeout",
				Usage: "Close connections idle for this long. 0 disables the timeout.",
			},
			&cli.BoolFlag{
				Name:  "initial-running",
				Usage: "Initial running state.",
			},
			&cli.UintFlag{
				Name:  "initial-value",
				Usage: "Initial value (0-255).",
			},
			&cli.StringFlag{
				Name:  "serial-device",
				Usage: "Forward every command to this serial device.",
			},
			&cli.IntFlag{
				Name:  "serial-baud",
				Usage: "Baud rate of the serial device.",
				Value: swi.DefaultBaud,
			},
			&cli.StringFlag{
				Name:  "uinput",
				Usage: "Inject key events read from the serial device through this uinput device, e.g. " + swi.DefaultUinputPath + ".",
			},
			&cli.StringFlag{
				Name:  "valkey-addr",
				Usage: "Publish state changes to the Valkey server at this address.",
			},
			&cli.StringFlag{
				Name:  "valkey-channel",
				Usage: "Valkey channel for state changes.",
				Value: swi.DefaultStateChannel,
			},
			&cli.StringFlag{
				Name:  "status-addr",
				Usage: "Serve the read-only HTTP status API on this address.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level. One of [debug,info,warn,error].",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "log-dev",
				Usage: "Human-readable development logging.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()
	sugar := logger.Named("swid").Sugar()

	policy, err := swi.ParseBusyPolicy(cfg.Socket.BusyPolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks []swi.Sink
	var serialReader *swi.SerialReader

	if cfg.Serial.Device != "" {
		port, err := swi.OpenSerial(cfg.Serial.Device, cfg.Serial.Baud)
		if err != nil {
			return fmt.Errorf("opening serial device: %w", err)
		}
		forwarder := swi.NewForwarder(port)
		defer forwarder.Close()
		sinks = append(sinks, forwarder)
		sugar.Infow("forwarding commands to serial device", "device", cfg.Serial.Device, "baud", cfg.Serial.Baud)

		readerOpts := []swi.SerialReaderOption{swi.WithSerialLogger(logger)}
		if cfg.Serial.Uinput != "" {
			keys, err := swi.OpenUinput(cfg.Serial.Uinput, "swid")
			if err != nil {
				return fmt.Errorf("opening uinput device: %w", err)
			}
			defer keys.Close()
			readerOpts = append(readerOpts, swi.WithKeyEmitter(keys))
			sugar.Infow("injecting key events", "uinput", cfg.Serial.Uinput)
		}
		serialReader = swi.NewSerialReader(port, readerOpts...)
	}

	if cfg.Valkey.Address != "" {
		client, err := swi.NewValkeyClient(cfg.Valkey.Address)
		if err != nil {
			return fmt.Errorf("connecting to valkey: %w", err)
		}
		publisher := swi.NewValkeyPublisher(client, cfg.Valkey.Channel, swi.WithPublisherLogger(logger))
		defer publisher.Close()
		sinks = append(sinks, publisher)
		sugar.Infow("publishing state to valkey", "addr", cfg.Valkey.Address, "channel", cfg.Valkey.Channel)
	}

	var server swi.Server
	var status *swi.StatusServer
	if cfg.Status.ListenAddr != "" {
		status = swi.NewStatusServer(
			swi.StateSourceFunc(func() swi.Snapshot { return server.State() }),
			swi.WithStatusLogger(logger),
		)
		sinks = append(sinks, status)
	}

	server = swi.NewUnixServer(cfg.Socket.Path,
		swi.WithLogger(logger),
		swi.WithBusyPolicy(policy),
		swi.WithReadTimeout(cfg.Socket.ReadTimeout.Duration()),
		swi.WithServerSocketMode(os.FileMode(cfg.Socket.Mode)),
		swi.WithInitialState(swi.Snapshot{Running: cfg.State.Running, Value: cfg.State.Value}),
		swi.WithSink(sinks...),
	)

	// A bind failure ends the process before anything is accepted.
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-groupCtx.Done()
		return server.Shutdown()
	})
	if status != nil {
		group.Go(func() error {
			return status.ListenAndServe(groupCtx, cfg.Status.ListenAddr)
		})
	}
	if serialReader != nil {
		// Losing the inbound side of the link leaves forwarding running.
		group.Go(func() error {
			if err := serialReader.Run(groupCtx); err != nil {
				sugar.Warnw("serial reader stopped", zap.Error(err))
			}
			return nil
		})
	}

	err = group.Wait()
	sugar.Infow("shut down", "final_state", server.State(), zap.Error(err))
	return err
}

func loadConfig(cctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := cctx.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if cctx.IsSet("socket") {
		cfg.Socket.Path = cctx.String("socket")
	}
	if cctx.IsSet("socket-mode") {
		mode, err := config.ParseMode(cctx.String("socket-mode"))
		if err != nil {
			return cfg, fmt.Errorf("parsing socket mode: %w", err)
		}
		cfg.Socket.Mode = config.FileMode(mode)
	}
	if cctx.IsSet("busy-policy") {
		cfg.Socket.BusyPolicy = cctx.String("busy-policy")
	}
	if cctx.IsSet("read-timeout") {
		cfg.Socket.ReadTimeout = config.Duration(cctx.Duration("read-timeout"))
	}
	if cctx.IsSet("initial-running") {
		cfg.State.Running = cctx.Bool("initial-running")
	}
	if cctx.IsSet("initial-value") {
		v := cctx.Uint("initial-value")
		if v > 255 {
			return cfg, fmt.Errorf("initial value %d out of range", v)
		}
		cfg.State.Value = uint8(v)
	}
	if cctx.IsSet("serial-device") {
		cfg.Serial.Device = cctx.String("serial-device")
	}
	if cctx.IsSet("serial-baud") {
		cfg.Serial.Baud = cctx.Int("serial-baud")
	}
	if cctx.IsSet("uinput") {
		cfg.Serial.Uinput = cctx.String("uinput")
	}
	if cctx.IsSet("valkey-addr") {
		cfg.Valkey.Address = cctx.String("valkey-addr")
	}
	if cctx.IsSet("valkey-channel") {
		cfg.Valkey.Channel = cctx.String("valkey-channel")
	}
	if cctx.IsSet("status-addr") {
		cfg.Status.ListenAddr = cctx.String("status-addr")
	}
	if cctx.IsSet("log-level") {
		cfg.Log.Level = cctx.String("log-level")
	}
	if cctx.IsSet("log-dev") {
		cfg.Log.Development = cctx.Bool("log-dev")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
