// Package main provides the local terminal server for desktop platforms.
// Renderer windows enqueue operations over REST and follow replay progress
// over WebSocket on localhost:8090.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tablepos/terminal/internal/config"
	"github.com/tablepos/terminal/internal/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "desktop: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := config.Flags("desktop")
	if err := flags.Parse(args); err != nil {
		return err
	}
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path, flags)
	if err != nil {
		return err
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.close()

	return srv.run(ctx)
}
