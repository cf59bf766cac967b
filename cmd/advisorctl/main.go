// advisorctl asks the FarmXpert orchestrator questions from a terminal and
// prints the streamed answer as it builds up.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// rootOptions are shared by every subcommand.
type rootOptions struct {
	Server string
	APIKey string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "advisorctl",
		Short:         "Talk to the FarmXpert orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("FARMXPERT_SERVER", "http://localhost:8080"), "Orchestrator base URL")
	cmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", os.Getenv("FARMXPERT_API_KEY"), "API key sent as a bearer token")

	cmd.AddCommand(
		NewAskCmd(opts),
		NewAdaptersCmd(opts),
		NewCancelCmd(opts),
		NewWorkflowCmd(opts),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
