package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/replicant/internal/fashion"
	"github.com/roach88/replicant/internal/httpapi"
	"github.com/roach88/replicant/internal/offload"
)

const shutdownGrace = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr      string
	Providers []string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the catalog replica, search coordinator and HTTP API",
		Long: `Start the catalog pump, the scatter-gather coordinator and the HTTP API.

The pump restores the newest snapshot and replays the update log before
going live; /healthz reports its state meanwhile. Inventory files passed
with --provider are served by in-process responders, which is the only
way to get replies with the memory transport.

Example:
  replicant serve --config replicant.yaml
  replicant serve --addr :9090 --provider north.yaml --provider south.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().StringArrayVar(&opts.Providers, "provider", nil, "inventory YAML served by an in-process responder (repeatable)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}

	inventories := make([]fashion.Inventory, 0, len(opts.Providers))
	for _, path := range opts.Providers {
		inv, err := fashion.LoadInventory(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load inventory", err)
		}
		inventories = append(inventories, inv)
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

	p := n.catalogPump()
	live, err := p.Start(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start pump", err)
	}
	defer stopPump(cancel, p)

	coord, err := n.coordinator(live)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build coordinator", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	for _, inv := range inventories {
		inv := inv // per-iteration copy; go 1.21 loop semantics
		r := n.responder(inv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("provider started", "provider", inv.Provider, "items", len(inv.Items))
			if err := r.Run(ctx); err != nil {
				slog.Error("provider stopped", "provider", inv.Provider, "error", err)
			}
		}()
	}

	if n.offloaded != nil && cfg.Pump.RetentionMaxAge > 0 && cfg.Pump.RetentionInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			purgeLoop(ctx, n.offloaded, cfg.Pump.RetentionMaxAge, cfg.Pump.RetentionInterval)
		}()
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewHandler(httpapi.Options{
			Search:         coord,
			Data:           live,
			Updates:        p,
			State:          p.State,
			DefaultTimeout: cfg.Search.DefaultTimeout,
			MaxTimeout:     cfg.Search.MaxTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	slog.Info("serving", "addr", cfg.HTTP.Addr, "transport", cfg.Transport.Kind, "providers", len(inventories))
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", cfg.HTTP.Addr)

	var runErr error
	select {
	case <-ctx.Done():
	case <-live.Done():
		if err := live.Err(); err != nil {
			runErr = WrapExitError(ExitFailure, "pump failed", err)
		}
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = WrapExitError(ExitCommandError, "http server failed", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}

	slog.Info("stopped")
	return runErr
}

// purgeLoop deletes offloaded reply blobs older than maxAge every interval.
func purgeLoop(ctx context.Context, blobs *offload.Channel, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := blobs.Purge(ctx, maxAge)
			if err != nil && !isShutdown(err) {
				slog.Warn("offload purge", "error", err)
			}
			if len(deleted) > 0 {
				slog.Info("purged offloaded replies", "count", len(deleted))
			}
		}
	}
}
