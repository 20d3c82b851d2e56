package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/pump"
)

// SnapshotOptions holds flags shared by the snapshot subcommands.
type SnapshotOptions struct {
	*RootOptions
	MaxAge time.Duration
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write, list and sweep catalog snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "write",
		Short: "Replay the update log and write a snapshot at its head",
		Long: `Restore the newest snapshot, replay the update log up to its current head
and write the result as a new snapshot. Writing a watermark that already has
a snapshot is a no-op.

Example:
  replicant snapshot write --config replicant.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotWrite(opts, cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List snapshots, newest watermark first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotList(opts, cmd)
		},
	})

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete snapshots older than --max-age, keeping the newest ones",
		Long: `Run one retention pass. Snapshots last modified more than --max-age ago are
deleted, except for the pump.keep_newest most recent of them.

Example:
  replicant snapshot sweep --max-age 72h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotSweep(opts, cmd)
		},
	}
	sweep.Flags().DurationVar(&opts.MaxAge, "max-age", 0, "age threshold (defaults to pump.retention_max_age)")
	cmd.AddCommand(sweep)

	return cmd
}

// SnapshotList is the output of snapshot list.
type SnapshotList struct {
	Snapshots []pump.SnapshotInfo `json:"snapshots"`
}

// String renders the list as text.
func (l SnapshotList) String() string {
	if len(l.Snapshots) == 0 {
		return "no snapshots"
	}
	var b strings.Builder
	for i, s := range l.Snapshots {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-20s %8d  %7dB  %s", s.Name, s.Watermark, s.Size, s.LastModified.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// SnapshotWritten is the output of snapshot write.
type SnapshotWritten struct {
	Watermark ir.Watermark `json:"watermark"`
	Name      string       `json:"name,omitempty"`
}

// String renders the result as text.
func (s SnapshotWritten) String() string {
	if s.Name == "" {
		return "catalog is empty, no snapshot written"
	}
	return fmt.Sprintf("wrote %s at watermark %d", s.Name, s.Watermark)
}

// SweepResult is the output of snapshot sweep.
type SweepResult struct {
	Deleted []string `json:"deleted"`
}

// String renders the result as text.
func (r SweepResult) String() string {
	if len(r.Deleted) == 0 {
		return "nothing to delete"
	}
	return "deleted " + strings.Join(r.Deleted, ", ")
}

func runSnapshotWrite(opts *SnapshotOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
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

	p, live, err := startCatalog(ctx, n)
	if p != nil {
		defer stopPump(cancel, p)
	}
	if err != nil {
		return err
	}

	data := live.Current()
	if err := p.WriteSnapshot(ctx, data); err != nil {
		return WrapExitError(ExitFailure, "failed to write snapshot", err)
	}

	out := SnapshotWritten{Watermark: data.Watermark}
	if !data.Empty() {
		out.Name = ir.SnapshotName(data.Watermark, cfg.Pump.Compress)
	}
	return opts.formatter(cmd).Success(out)
}

func runSnapshotList(opts *SnapshotOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	n, err := openNode(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open transports", err)
	}
	defer n.Close()

	infos, err := n.catalogPump().Snapshots(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list snapshots", err)
	}
	return opts.formatter(cmd).Success(SnapshotList{Snapshots: infos})
}

func runSnapshotSweep(opts *SnapshotOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	maxAge := opts.MaxAge
	if maxAge == 0 {
		maxAge = cfg.Pump.RetentionMaxAge
	}
	if maxAge <= 0 {
		return NewExitError(ExitCommandError, "--max-age must be positive")
	}

	n, err := openNode(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open transports", err)
	}
	defer n.Close()

	deleted, err := n.catalogPump().SweepSnapshots(cmd.Context(), maxAge)
	if err != nil {
		return WrapExitError(ExitFailure, "sweep failed", err)
	}
	slog.Info("sweep finished", "deleted", len(deleted), "max_age", maxAge)
	return opts.formatter(cmd).Success(SweepResult{Deleted: deleted})
}
