package main

import (
	"fmt"

	"github.com/adrianmcphee/searchbase"
	"github.com/spf13/cobra"
)

var searchCmd = kvCommand(&cobra.Command{
	Use:   "search [index] [expression]",
	Short: "Queries an index and prints the keys of the hits",
	Long: `Queries the search index of one entity type (its simple name, e.g. Event)
and prints the key of every hit on the current page, followed by the total
number of matches. The expression defaults to *.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		expression := "*"
		if len(args) == 2 {
			expression = args[1]
		}
		offset, _ := cmd.Flags().GetInt("offset")
		limit, _ := cmd.Flags().GetInt("limit")
		sortBy, _ := cmd.Flags().GetString("sort")
		desc, _ := cmd.Flags().GetBool("desc")

		q := searchbase.NewQuery(expression).Limit(offset, limit)
		if sortBy != "" {
			q.SortedBy(sortBy, desc)
		}

		keys, total, err := store.SearchKeys(cmd.Context(), args[0], q)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, k := range keys {
			fmt.Fprintln(out, k)
		}
		fmt.Fprintf(out, "%d of %d hit(s)\n", len(keys), total)
		return nil
	},
})

func init() {
	searchCmd.Flags().Int("offset", 0, "index of the first hit to return")
	searchCmd.Flags().Int("limit", searchbase.DefaultQueryLimit, "maximum number of hits to return")
	searchCmd.Flags().String("sort", "", "sortable field to order hits by")
	searchCmd.Flags().Bool("desc", false, "sort in descending order")
}
