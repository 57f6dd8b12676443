package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sells-group/biome-cli/internal/checkpoint"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <output-dir>",
	Short: "Concatenate the checkpoint segments of a run into one table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		dest, _ := cmd.Flags().GetString("dest")
		if dest == "" {
			dest = filepath.Join(dir, cfg.Output.MergeName)
		}

		res, err := checkpoint.Merge(dir, dest)
		if err != nil {
			return err
		}
		fmt.Printf("merged %d segments (%d rows) into %s\n", res.Segments, res.Rows, res.Path)
		fmt.Printf("  exact: %d  approximate: %d  unresolved: %d\n",
			res.Stats.Exact, res.Stats.Approximate, res.Stats.Unresolved)
		return nil
	},
}

func init() {
	mergeCmd.Flags().String("dest", "", "merged table path (default <output-dir>/<output.merge_name>)")
	rootCmd.AddCommand(mergeCmd)
}
