package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/biome-cli/internal/summary"
)

var tallyCmd = &cobra.Command{
	Use:   "tally <reclassified> <dest>",
	Short: "Count labels per entity",
	Long:  "Writes one row per entity with COUNT_ and PERCENT_ columns for every label and a TOTAL column.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		entity, _ := cmd.Flags().GetString("entity-column")
		label, _ := cmd.Flags().GetString("label-column")
		remapPath, _ := cmd.Flags().GetString("remap")
		fallback, _ := cmd.Flags().GetString("fallback")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")

		opts := summary.TallyOptions{
			EntityColumn: entity,
			LabelColumn:  label,
			Fallback:     fallback,
			Exclude:      exclude,
		}
		if remapPath != "" {
			remap, err := summary.LoadRemap(ctx, remapPath, "")
			if err != nil {
				return err
			}
			opts.Remap = remap
		}

		t, err := summary.Count(ctx, args[0], opts)
		if err != nil {
			return err
		}
		if err := t.Write(args[1]); err != nil {
			return err
		}

		fmt.Printf("tallied %d entities over %d labels into %s (%d rows dropped)\n",
			len(t.Entities), len(t.Labels), args[1], t.Dropped)
		return nil
	},
}

func init() {
	tallyCmd.Flags().String("entity-column", "", "entity column (default entity_id)")
	tallyCmd.Flags().String("label-column", "", "label column (default biome_reclassified)")
	tallyCmd.Flags().String("remap", "", "two-column table mapping labels to broader groups")
	tallyCmd.Flags().String("fallback", "", `group for labels missing from --remap (default "Other")`)
	tallyCmd.Flags().StringSlice("exclude", nil, "labels to drop after remapping")
	rootCmd.AddCommand(tallyCmd)
}
