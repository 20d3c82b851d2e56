package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/replicant/internal/fashion"
	"github.com/roach88/replicant/internal/ir"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	ProductType string
	Size        int
	Timeout     time.Duration
	Providers   []string
}

// SearchResult is the output of the search command.
type SearchResult struct {
	Items                 []fashion.Item `json:"items"`
	ElapsedMS             int64          `json:"elapsedMs"`
	BusinessDataWatermark ir.Watermark   `json:"businessDataWatermark"`
}

// String renders the result as text.
func (r SearchResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d item(s) in %dms at watermark %d", len(r.Items), r.ElapsedMS, r.BusinessDataWatermark)
	for _, it := range r.Items {
		fmt.Fprintf(&b, "\n  %-10s %-16s %8.2f  %s", it.Provider, it.ID, it.Price, it.Description)
	}
	return b.String()
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one scatter-gather search and print the result",
		Long: `Replay the catalog, broadcast one search and print what providers answered
before the timeout. Inventory files passed with --provider are answered
in-process.

Example:
  replicant search --type Hat --size 16
  replicant search --type Hat --size 16 --timeout 500ms --provider north.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ProductType, "type", "", "product type to search for (required)")
	cmd.Flags().IntVar(&opts.Size, "size", 0, "size to search for (required)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "search timeout (defaults to search.default_timeout)")
	cmd.Flags().StringArrayVar(&opts.Providers, "provider", nil, "inventory YAML answered in-process (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("size")

	return cmd
}

func runSearch(opts *SearchOptions, cmd *cobra.Command) error {
	if fashion.NormalizeType(opts.ProductType) == "" {
		return NewExitError(ExitCommandError, "--type must not be blank")
	}
	if opts.Timeout < 0 {
		return NewExitError(ExitCommandError, "--timeout must not be negative")
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = cfg.Search.DefaultTimeout
	}
	if timeout > cfg.Search.MaxTimeout {
		timeout = cfg.Search.MaxTimeout
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

	p, live, err := startCatalog(ctx, n)
	if p != nil {
		defer stopPump(cancel, p)
	}
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	for _, inv := range inventories {
		inv := inv // per-iteration copy; go 1.21 loop semantics
		// Subscribed here so the responder cannot miss the broadcast.
		sub, err := n.requests.Subscribe(ctx, ir.Tail())
		if err != nil {
			return WrapExitError(ExitFailure, "failed to subscribe provider", err)
		}
		r := n.responder(inv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Serve(ctx, sub); err != nil {
				slog.Error("provider stopped", "provider", inv.Provider, "error", err)
			}
		}()
	}

	coord, err := n.coordinator(live)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build coordinator", err)
	}
	resp, err := coord.Search(ctx, fashion.SearchQuery{ProductType: opts.ProductType, Size: opts.Size}, timeout)
	if err != nil {
		return WrapExitError(ExitFailure, "search failed", err)
	}

	return opts.formatter(cmd).SuccessWithRequest(SearchResult{
		Items:                 resp.Items,
		ElapsedMS:             resp.Elapsed.Milliseconds(),
		BusinessDataWatermark: resp.BusinessDataWatermark,
	}, resp.RequestID)
}
