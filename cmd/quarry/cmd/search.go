package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/config"
	"github.com/quarrysearch/quarry/internal/search"
)

// newSearchCmd creates the search command: a one-shot query.
func newSearchCmd() *cobra.Command {
	var (
		limit      int
		threshold  float64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			if err := config.ValidateThreshold(threshold); err != nil {
				return err
			}

			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.engine.Search(ctx, query, search.Options{
				Limit:     limit,
				Threshold: threshold,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			if len(results) == 0 {
				_, _ = fmt.Fprintln(out, "No results.")
				return nil
			}
			for i, r := range results {
				_, _ = fmt.Fprintf(out, "%d. %s (score %.3f)\n", i+1, r.Citation, r.FinalScore)
				_, _ = fmt.Fprintf(out, "   %s\n\n", r.DisplaySnippet)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum final score in [0,1]")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}
