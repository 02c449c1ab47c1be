// Command budget is the command-line client for the budget tracker API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"budgettracker/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
