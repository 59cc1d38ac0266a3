package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via -X main.version=$(VERSION).
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "fleetctl",
	Short:   "Lifecycle and operations controller for a fleet of containerized blockchain services",
	Version: version,
}

func init() {
	rootCmd.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newStopCmd(),
		newRestartCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newReconfigureCmd(),
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var misuse *misuseError
		if errors.As(err, &misuse) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
