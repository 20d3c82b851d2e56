package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/replicant/internal/fashion"
)

// ProviderOptions holds flags for the provider command.
type ProviderOptions struct {
	*RootOptions
	MaxConcurrent int
}

// NewProviderCommand creates the provider command.
func NewProviderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProviderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "provider <inventory.yaml>",
		Short: "Answer search requests from an inventory file",
		Long: `Run a simulated provider that answers broadcast search requests.

The provider subscribes to the request channel from its tail, so it only
answers searches published after it started. Every matching item is
published to the reply address named in the request, after the latency
configured in the inventory file.

Example:
  replicant provider --config replicant.yaml ./inventory/north.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvider(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxConcurrent, "max-concurrent", 0, "requests handled at once (overrides search.max_concurrent)")

	return cmd
}

func runProvider(opts *ProviderOptions, path string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.MaxConcurrent < 0 {
		return NewExitError(ExitCommandError, "--max-concurrent must not be negative")
	}
	if opts.MaxConcurrent > 0 {
		cfg.Search.MaxConcurrent = opts.MaxConcurrent
	}

	inv, err := fashion.LoadInventory(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load inventory", err)
	}
	if cfg.Transport.Kind == "memory" {
		slog.Warn("memory transport is process-local; this provider will not see requests from other processes")
	}

	n, err := openNode(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open transports", err)
	}
	defer func() {
		if closeErr := n.Close(); closeErr != nil {
			slog.Error("error closing transports", "error", closeErr)
		}
	}()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	slog.Info("provider starting", "provider", inv.Provider, "items", len(inv.Items), "latency", inv.Latency)
	fmt.Fprintf(cmd.OutOrStdout(), "Provider %s answering requests. Press Ctrl-C to stop.\n", inv.Provider)

	if err := n.responder(inv).Run(ctx); !isShutdown(err) {
		return WrapExitError(ExitFailure, "provider error", err)
	}

	slog.Info("provider stopped gracefully", "provider", inv.Provider)
	return nil
}
