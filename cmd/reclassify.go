package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sells-group/biome-cli/internal/summary"
)

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify <results> <dest>",
	Short: "Attach dictionary labels to resolved categories",
	Long: "Looks each category of a results table up in a code dictionary (CSV or XLSX: code, label, " +
		"reclassified label) and writes the table with biome_original, biome_reclassified, and biome_level columns.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dictPath, _ := cmd.Flags().GetString("dictionary")
		sheet, _ := cmd.Flags().GetString("sheet")
		column, _ := cmd.Flags().GetString("column")

		dict, err := summary.LoadDictionary(ctx, dictPath, sheet)
		if err != nil {
			return err
		}

		res, err := summary.Reclassify(ctx, args[0], args[1], column, dict)
		if err != nil {
			return err
		}

		fmt.Printf("reclassified %d rows into %s\n", res.Rows, args[1])
		levels := make([]string, 0, len(res.Levels))
		for l := range res.Levels {
			levels = append(levels, l)
		}
		sort.Strings(levels)
		for _, l := range levels {
			fmt.Printf("  %s: %d\n", l, res.Levels[l])
		}
		return nil
	},
}

func init() {
	reclassifyCmd.Flags().String("dictionary", "", "code dictionary (CSV or XLSX)")
	reclassifyCmd.Flags().String("sheet", "", "dictionary sheet (default first)")
	reclassifyCmd.Flags().String("column", "category", "category column of the results table")
	_ = reclassifyCmd.MarkFlagRequired("dictionary")
	rootCmd.AddCommand(reclassifyCmd)
}
