// Package main is the entry point for persephone.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/persephone/internal/models"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := Execute(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode passes the backup tool's exit status through when it failed.
func exitCode(err error) int {
	var opErr *models.OperationFailedError
	if errors.As(err, &opErr) && opErr.ExitCode > 0 {
		return opErr.ExitCode
	}
	return 1
}
