// Command runctl is the operator CLI for the run control plane.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/controlplane/internal/client"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:           "runctl",
	Short:         "Inspect and control workflow runs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("RUNCTL_SERVER_URL")
	if def == "" {
		def = client.DefaultServerURL
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "control plane base URL")
}

func newClient() *client.Client {
	return client.NewClient(serverURL)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
