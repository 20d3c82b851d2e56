package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/replicant/internal/fashion"
	"github.com/roach88/replicant/internal/ir"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	ProductType string
	Markup      float64
	Remove      bool
	File        string
}

// UpdateResult is the output of the update command.
type UpdateResult struct {
	Published []PublishedUpdate `json:"published"`
}

// PublishedUpdate pairs an update with the watermark the log assigned.
type PublishedUpdate struct {
	ProductType string       `json:"productType"`
	Markup      float64      `json:"markup"`
	Remove      bool         `json:"remove,omitempty"`
	Watermark   ir.Watermark `json:"watermark"`
}

// String renders the result as text.
func (r UpdateResult) String() string {
	var b strings.Builder
	for i, u := range r.Published {
		if i > 0 {
			b.WriteByte('\n')
		}
		if u.Remove {
			fmt.Fprintf(&b, "%-6d remove %s", u.Watermark, u.ProductType)
		} else {
			fmt.Fprintf(&b, "%-6d %s +%.2f", u.Watermark, u.ProductType, u.Markup)
		}
	}
	return b.String()
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Publish markup updates to the business data log",
		Long: `Publish one markup update from flags, or every entry of a markups file.

Updates are appended to the log in order; each reports the watermark the
log assigned. Replicas apply them when they read them back.

Example:
  replicant update --type Hat --markup 0.50
  replicant update --type Hat --remove
  replicant update --file ./markups.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ProductType, "type", "", "product type the markup applies to")
	cmd.Flags().Float64Var(&opts.Markup, "markup", 0, "markup added to every price of the type")
	cmd.Flags().BoolVar(&opts.Remove, "remove", false, "remove the product type's markup")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "YAML file of markups to publish")
	cmd.MarkFlagsMutuallyExclusive("file", "type")

	return cmd
}

func (opts *UpdateOptions) updates() ([]fashion.MarkupUpdate, error) {
	if opts.File != "" {
		ups, err := fashion.LoadMarkups(opts.File)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load markups", err)
		}
		if len(ups) == 0 {
			return nil, NewExitError(ExitCommandError, "markups file is empty")
		}
		return ups, nil
	}
	if fashion.NormalizeType(opts.ProductType) == "" {
		return nil, NewExitError(ExitCommandError, "either --file or --type is required")
	}
	if opts.Remove && opts.Markup != 0 {
		return nil, NewExitError(ExitCommandError, "--remove and --markup cannot be combined")
	}
	return []fashion.MarkupUpdate{{ProductType: opts.ProductType, Markup: opts.Markup, Remove: opts.Remove}}, nil
}

func runUpdate(opts *UpdateOptions, cmd *cobra.Command) error {
	ups, err := opts.updates()
	if err != nil {
		return err
	}
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

	p := n.catalogPump()
	result := UpdateResult{}
	for _, u := range ups {
		w, err := p.SendUpdate(ctx, u)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to publish update", err)
		}
		result.Published = append(result.Published, PublishedUpdate{
			ProductType: u.ProductType,
			Markup:      u.Markup,
			Remove:      u.Remove,
			Watermark:   w,
		})
	}

	return opts.formatter(cmd).Success(result)
}
