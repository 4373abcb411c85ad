package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/Sternrassler/product-catalog-client/pkg/catalog"
	"github.com/spf13/cobra"
)

func newGetCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a single product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid product id %q", args[0])
			}

			c, err := a.newClient()
			if err != nil {
				return err
			}
			defer c.Close()

			state := catalog.NewDetailLoader(c).Load(cmd.Context(), id)

			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), state); err != nil {
					return err
				}
			} else if state.Phase == catalog.PhaseSuccess {
				writeDetail(cmd.OutOrStdout(), state)
			}

			if state.Phase == catalog.PhaseError {
				return errors.New(state.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output the detail state as JSON")

	return cmd
}

func writeDetail(w io.Writer, state catalog.DetailState) {
	p := state.Product
	fmt.Fprintf(w, "ID:          %d\n", p.ID)
	fmt.Fprintf(w, "Title:       %s\n", p.Title)
	fmt.Fprintf(w, "Brand:       %s\n", p.Brand)
	fmt.Fprintf(w, "Category:    %s\n", p.Category)
	fmt.Fprintf(w, "Price:       %s\n", p.Price.StringFixed(2))
	fmt.Fprintf(w, "Rating:      %.2f\n", p.Rating)
	if p.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", p.Description)
	}
}

func sortedKeys(m map[int]string) []int {
	return slices.Sorted(maps.Keys(m))
}
