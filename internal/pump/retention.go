package pump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// SweepSnapshots runs one retention pass and returns the names it deleted.
//
// The pass first selects snapshots last modified more than maxAge ago,
// orders that set newest first, exempts the first KeepNewest entries and
// deletes the remainder. Snapshots younger than maxAge are never touched.
// Deletes are idempotent so concurrent sweeps from several pumps are safe.
// A failed delete does not stop the pass; failures are joined into the
// returned error.
func (p *Pump[T, U]) SweepSnapshots(ctx context.Context, maxAge time.Duration) ([]string, error) {
	infos, err := p.Snapshots(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := p.opts.now().Add(-maxAge)
	var old []SnapshotInfo
	for _, info := range infos {
		if info.LastModified.Before(cutoff) {
			old = append(old, info)
		}
	}

	sort.SliceStable(old, func(i, j int) bool {
		if !old[i].LastModified.Equal(old[j].LastModified) {
			return old[i].LastModified.After(old[j].LastModified)
		}
		return old[i].Watermark > old[j].Watermark
	})
	if len(old) <= p.opts.keepNewest {
		return nil, nil
	}

	var (
		deleted []string
		errs    []error
	)
	for _, info := range old[p.opts.keepNewest:] {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.snapshots.Delete(ctx, info.Name); err != nil {
			errs = append(errs, fmt.Errorf("delete snapshot %s: %w", info.Name, err))
			continue
		}
		slog.Debug("deleted snapshot", "name", info.Name, "watermark", info.Watermark)
		deleted = append(deleted, info.Name)
	}
	return deleted, errors.Join(errs...)
}

// DeleteOldSnapshots sweeps every interval until ctx is done. Sweep
// failures are logged and the loop continues.
func (p *Pump[T, U]) DeleteOldSnapshots(ctx context.Context, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		deleted, err := p.SweepSnapshots(ctx, maxAge)
		if err != nil && ctx.Err() == nil {
			slog.Warn("snapshot sweep failed", "error", err)
		}
		if len(deleted) > 0 {
			slog.Info("swept snapshots", "deleted", len(deleted))
		}
	}
}
