package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/biome-cli/internal/checkpoint"
	"github.com/sells-group/biome-cli/internal/export"
	"github.com/sells-group/biome-cli/internal/model"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a results table as GeoJSON, a shapefile, or PostGIS rows",
}

var exportGeoJSONCmd = &cobra.Command{
	Use:   "geojson <results> <dest>",
	Short: "Write results as a GeoJSON FeatureCollection",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		n, err := export.WriteGeoJSON(args[0], args[1])
		if err != nil {
			return err
		}
		printCounts(args[1], n)
		return nil
	},
}

var exportShapefileCmd = &cobra.Command{
	Use:   "shapefile <results> <dest>",
	Short: "Write results as a point shapefile",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		n, err := export.WriteShapefile(args[0], args[1])
		if err != nil {
			return err
		}
		printCounts(args[1], n)
		return nil
	},
}

var exportPostgresCmd = &cobra.Command{
	Use:   "postgres <results>",
	Short: "Load results into a PostGIS table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dsn, _ := cmd.Flags().GetString("database-url")
		if dsn == "" {
			dsn = cfg.Export.DatabaseURL
		}
		if dsn == "" {
			return eris.Wrap(model.ErrConfiguration, "export: no database url (--database-url or export.database_url)")
		}
		table, _ := cmd.Flags().GetString("table")
		if table == "" {
			table = cfg.Export.Table
		}
		runID, _ := cmd.Flags().GetString("run-id")
		if runID == "" {
			id, err := runIDFor(args[0])
			if err != nil {
				return err
			}
			runID = id
		}
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		appendRows, _ := cmd.Flags().GetBool("append")

		pool, err := openExportPool(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := export.EnsureTable(ctx, pool, table); err != nil {
			return err
		}
		n, err := export.ToPostgres(ctx, pool, args[0], export.PostgresOptions{
			Table:     table,
			RunID:     runID,
			BatchSize: batchSize,
			Append:    appendRows,
		})
		if err != nil {
			return err
		}

		zap.L().Info("export: postgres complete", zap.String("table", table), zap.String("run_id", runID), zap.Int64("rows", n))
		fmt.Printf("loaded %d rows into %s for run %s\n", n, table, runID)
		return nil
	},
}

func init() {
	exportPostgresCmd.Flags().String("database-url", "", "PostGIS connection string (default export.database_url)")
	exportPostgresCmd.Flags().String("table", "", "target table (default export.table)")
	exportPostgresCmd.Flags().String("run-id", "", "run id stored with each row (default from the output manifest)")
	exportPostgresCmd.Flags().Int("batch-size", 5000, "rows per transaction")
	exportPostgresCmd.Flags().Bool("append", false, "COPY rows without replacing an earlier export of the run")

	exportCmd.AddCommand(exportGeoJSONCmd)
	exportCmd.AddCommand(exportShapefileCmd)
	exportCmd.AddCommand(exportPostgresCmd)
	rootCmd.AddCommand(exportCmd)
}

func printCounts(dest string, n export.Counts) {
	fmt.Printf("wrote %d features to %s", n.Written, dest)
	if n.Skipped > 0 {
		fmt.Printf(" (%d without coordinates skipped)", n.Skipped)
	}
	fmt.Println()
}

// runIDFor reads the run id from the manifest next to a merged table.
func runIDFor(src string) (string, error) {
	m, err := checkpoint.LoadManifest(filepath.Dir(src))
	if err != nil {
		return "", err
	}
	if m == nil || m.RunID == "" {
		return "", eris.Wrapf(model.ErrConfiguration, "export: no manifest beside %s, pass --run-id", src)
	}
	return m.RunID, nil
}

func openExportPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "export: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "export: ping")
	}
	return pool, nil
}
