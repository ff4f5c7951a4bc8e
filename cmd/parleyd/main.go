package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mvilaca/parley/internal/devserver"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":4004", "listen address")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	world := devserver.NewWorld()
	world.Seed()
	logger.Info("seeded demo accounts", zap.String("password", "demo"),
		zap.Strings("emails", []string{"ana@example.com", "bruno@example.com", "carla@example.com"}))

	srv := devserver.New(*addr, world, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}
}
