package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mvilaca/parley/internal/app"
	"github.com/mvilaca/parley/internal/lock"
	"github.com/mvilaca/parley/internal/tui"
	"go.uber.org/fx"
)

func main() {
	var ui *tui.App

	fxApp := fx.New(
		app.Module(),
		fx.Populate(&ui),
		fx.NopLogger, // the TUI owns the terminal
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "error: %v\n", held)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}

	runErr := ui.Run()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelStop()
	_ = fxApp.Stop(stopCtx)

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
