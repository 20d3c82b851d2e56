package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/fashion"
	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/pump"
)

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// startCatalog starts the catalog pump and blocks until it has folded
// everything that was in the update log when it started.
// Background snapshot and retention loops are disabled.
func startCatalog(ctx context.Context, n *node) (*pump.Pump[fashion.Catalog, fashion.MarkupUpdate], *pump.Live[fashion.Catalog], error) {
	p := n.catalogPump(pump.WithSnapshotInterval(0), pump.WithRetention(0, 0))
	live, err := p.Start(ctx)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "failed to start pump", err)
	}

	head := ir.NoWatermark
	if hr, ok := n.updates.(channel.HeadReporter); ok {
		if head, err = hr.Head(ctx); err != nil {
			return p, live, WrapExitError(ExitFailure, "failed to read update log head", err)
		}
	}
	if _, err := live.WaitFor(ctx, head); err != nil {
		return p, live, WrapExitError(ExitFailure, "pump stopped during replay", err)
	}
	slog.Info("catalog caught up", "watermark", live.Current().Watermark, "state", p.State().String())
	return p, live, nil
}

// stopPump cancels the pump's context, then waits for its background
// tasks. Waiting first would block until the caller's parent context ends.
func stopPump(cancel context.CancelFunc, p interface{ Wait() }) {
	cancel()
	p.Wait()
}

// isShutdown reports whether err only says the run was asked to stop.
func isShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
