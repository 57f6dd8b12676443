package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/biome-cli/internal/config"
	"github.com/sells-group/biome-cli/internal/pipeline"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <input>",
	Short: "Assign a biome category to every record of an occurrence table",
	Long: "Reads a CSV, XLSX, shapefile, or ZIP table of points, resolves each one against the raster, " +
		"and writes checkpoint segments to the output directory. Rerunning over the same directory resumes.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := applyResolveFlags(cmd.Flags(), cfg); err != nil {
			return err
		}

		var opts []pipeline.Option
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
			opts = append(opts, pipeline.WithStore(st))
		}
		if bar, _ := cmd.Flags().GetBool("progress"); bar {
			opts = append(opts, pipeline.WithProgressBar(os.Stderr))
		}

		out, err := pipeline.New(cfg, opts...).Run(ctx, args[0])
		if err != nil {
			if out != nil {
				fmt.Fprintf(os.Stderr, "run %s stopped; rerun with the same output directory to resume\n", out.RunID)
			}
			return err
		}

		s := out.Summary.Stats
		fmt.Printf("run %s: %d exact, %d approximate, %d unresolved (%d resumed, %d resolved now)\n",
			out.RunID, s.Exact, s.Approximate, s.Unresolved, out.Summary.Skipped, out.Summary.Processed)
		if out.Merged != nil {
			fmt.Printf("merged %d segments into %s\n", out.Merged.Segments, out.Merged.Path)
		}
		return nil
	},
}

func init() {
	resolveFlags(resolveCmd.Flags())
	rootCmd.AddCommand(resolveCmd)
}

func resolveFlags(f *pflag.FlagSet) {
	f.String("raster", "", "categorical raster (GeoTIFF or ESRI ASCII grid)")
	f.StringP("output", "o", "", "output directory for segments and the merged table")
	f.Int("batch-size", 0, "records per batch")
	f.Int("threshold", 0, "records per checkpoint segment")
	f.Float64("min-radius", 0, "first search radius in raster units")
	f.Float64("max-radius", 0, "last search radius in raster units")
	f.Int("workers", 0, "resolver goroutines (0 uses every CPU)")
	f.String("index", "", "nearest-cell index (kdtree or rtree)")
	f.String("entity-column", "", "entity identifier column")
	f.String("lon-column", "", "longitude column")
	f.String("lat-column", "", "latitude column")
	f.String("delimiter", "", `CSV delimiter (use \t for tab)`)
	f.String("sheet", "", "XLSX sheet to read (default first)")
	f.Bool("no-merge", false, "leave segments unmerged")
	f.String("metrics-file", "", "Prometheus textfile written on each progress report")
	f.Bool("progress", false, "draw a progress bar on stderr")
}

// applyResolveFlags copies explicitly set flags over the loaded config.
func applyResolveFlags(f *pflag.FlagSet, c *config.Config) error {
	strs := map[string]*string{
		"raster":        &c.Raster.Path,
		"output":        &c.Output.Dir,
		"index":         &c.Resolve.Index,
		"entity-column": &c.Input.EntityColumn,
		"lon-column":    &c.Input.LongitudeColumn,
		"lat-column":    &c.Input.LatitudeColumn,
		"delimiter":     &c.Input.Delimiter,
		"sheet":         &c.Input.Sheet,
		"metrics-file":  &c.Metrics.TextfilePath,
	}
	for name, dst := range strs {
		if !f.Changed(name) {
			continue
		}
		v, err := f.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	ints := map[string]*int{
		"batch-size": &c.Resolve.BatchSize,
		"threshold":  &c.Resolve.CheckpointThreshold,
		"workers":    &c.Resolve.WorkerCount,
	}
	for name, dst := range ints {
		if !f.Changed(name) {
			continue
		}
		v, err := f.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	floats := map[string]*float64{
		"min-radius": &c.Resolve.MinSearchRadius,
		"max-radius": &c.Resolve.MaxSearchRadius,
	}
	for name, dst := range floats {
		if !f.Changed(name) {
			continue
		}
		v, err := f.GetFloat64(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if f.Changed("no-merge") {
		noMerge, err := f.GetBool("no-merge")
		if err != nil {
			return err
		}
		c.Output.Merge = !noMerge
	}
	return c.Validate()
}
