// Package main is the entry point for ghcdn.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fclairamb/ghcdn/internal/cmd"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Cancel in-flight requests on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := cmd.NewApp()
	if err := app.Run(ctx, os.Args); err != nil {
		if !errors.Is(err, cmd.ErrAbsent) {
			slog.Error("error", "error", err)
		}
		return 1
	}

	return 0
}
