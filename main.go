package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/replicate/rget/cmd"
	"github.com/replicate/rget/pkg/cli"
	"github.com/replicate/rget/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()

	// an interrupt stops the workers between chunks; progress on disk stays resumable
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCMD.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
