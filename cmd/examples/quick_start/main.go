package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	swi "github.com/TheAlpha16/swi-go"
)

func main() {
	dir, err := os.MkdirTemp("", "swi-quick-start")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "swi.sock")

	// Print every command as it is applied
	printer := swi.SinkFunc(func(ctx context.Context, ev swi.Event) error {
		fmt.Printf("%-8s running=%-5t value=%d\n", ev.Command, ev.After.Running, ev.After.Value)
		return nil
	})

	// Handlers run once per command of their kind, after the state changes
	onStop := func(ctx context.Context, cmd swi.Command) error {
		fmt.Println("stopped, releasing outputs")
		return nil
	}

	server := swi.NewUnixServer(path,
		swi.WithHandler(swi.CommandStop, onStop),
		swi.WithSink(printer),
	)
	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	defer server.Shutdown()

	fmt.Printf("Control server listening on %s\n", server.Addr())

	client, err := swi.Dial(ctx, path)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	for _, send := range []func(context.Context) error{
		client.Start,
		func(ctx context.Context) error { return client.Set(ctx, 42) },
		client.Stop,
	} {
		if err := send(ctx); err != nil {
			log.Printf("Failed to send command: %v", err)
		}
	}
	client.Close()

	// Give the server a moment to read the last byte
	time.Sleep(100 * time.Millisecond)

	state := server.State()
	fmt.Printf("Final state: running=%t value=%d\n", state.Running, state.Value)
}
