// Spins up the ringq server, serving named queues over the Redis protocol.

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nobletooth/ringq/pkg/config"
	"github.com/nobletooth/ringq/pkg/port"
	"github.com/nobletooth/ringq/pkg/utils"
)

var printVersion = flag.Bool("print_version", false, "Print the version and exit.")

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Ringq build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)

	go func() { // Listen for OS interrupts in the background.
		sig := <-signals
		slog.Info("Received termination signal, cancelling server context.", "signal", sig)
		cancel()
	}()

	store, err := port.NewQueueStore()
	if err != nil {
		slog.Error("Failed to create the queue store.", "err", err)
		os.Exit(1)
	}
	if err := port.RunRedisServer(ctx, store); err != nil {
		slog.Error("Ringq server stopped.", "err", err)
		os.Exit(1)
	}
}
