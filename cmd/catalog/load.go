package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Sternrassler/product-catalog-client/pkg/catalog"
	"github.com/Sternrassler/product-catalog-client/pkg/product"
	"github.com/spf13/cobra"
)

type loadOptions struct {
	lo             int
	hi             int
	json           bool
	maxConcurrency int
	retry          bool
}

// loadResult is the --json output of the load command.
type loadResult struct {
	Batch    catalog.Summary   `json:"batch"`
	Retry    *catalog.Summary  `json:"retry,omitempty"`
	Products []product.Product `json:"products"`
	Errors   map[int]string    `json:"errors"`
}

func newLoadCmd(a *app) *cobra.Command {
	opts := &loadOptions{}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Fetch a range of products and print the result",
		Long: `Launches one request per identifier in [lo, hi], waits for every request
to settle and prints the products in identifier order followed by the
identifiers that failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLoad(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.lo, "lo", 0, "first identifier (default from config)")
	cmd.Flags().IntVar(&opts.hi, "hi", 0, "last identifier (default from config)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "output results as JSON")
	cmd.Flags().IntVar(&opts.maxConcurrency, "max-concurrency", 0, "cap on requests in flight, 0 for unbounded (default from config)")
	cmd.Flags().BoolVar(&opts.retry, "retry", false, "retry failed identifiers once after the range settles")

	return cmd
}

func (a *app) runLoad(cmd *cobra.Command, opts *loadOptions) error {
	lo, hi := a.cfg.Loader.RangeLo, a.cfg.Loader.RangeHi
	if cmd.Flags().Changed("lo") {
		lo = opts.lo
	}
	if cmd.Flags().Changed("hi") {
		hi = opts.hi
	}

	loaderCfg := a.cfg.LoaderConfig()
	if cmd.Flags().Changed("max-concurrency") {
		if opts.maxConcurrency < 0 {
			return errors.New("--max-concurrency must be >= 0")
		}
		loaderCfg.MaxConcurrency = opts.maxConcurrency
	}

	c, err := a.newClient()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	store := catalog.NewStore()
	loader := catalog.NewLoader(c, store, loaderCfg)

	batch, err := loader.LoadRange(ctx, lo, hi)
	if err != nil {
		return err
	}
	if err := batch.Wait(ctx); err != nil {
		return fmt.Errorf("wait for batch: %w", err)
	}

	result := loadResult{Batch: batch.Summary()}

	if failed := store.FailedIDs(); opts.retry && len(failed) > 0 {
		retry, err := loader.Retry(ctx, failed...)
		if err != nil {
			return err
		}
		if err := retry.Wait(ctx); err != nil {
			return fmt.Errorf("wait for retry: %w", err)
		}
		summary := retry.Summary()
		result.Retry = &summary
	}

	snap := store.Snapshot()
	result.Products = snap.Products
	result.Errors = snap.Errors

	if opts.json {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	return writeLoadTable(cmd.OutOrStdout(), result)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	return nil
}

func writeLoadTable(w io.Writer, result loadResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tPRICE\tRATING")
	for _, p := range result.Products {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\n", p.ID, p.Title, p.Category, p.Price.StringFixed(2), p.Rating)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, id := range sortedKeys(result.Errors) {
			fmt.Fprintf(w, "  %d: %s\n", id, result.Errors[id])
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Loaded %d products, %d errors (range %d-%d, %s)\n",
		len(result.Products), len(result.Errors),
		result.Batch.Range.Lo, result.Batch.Range.Hi, result.Batch.Duration)
	return nil
}
