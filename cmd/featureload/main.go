package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/survey-spatial-api/internal/core/model"
	"github.com/mohammed-shakir/survey-spatial-api/internal/features/postgis"
	"github.com/mohammed-shakir/survey-spatial-api/internal/logger"
)

var (
	databaseURL string
	table       string
	inputFile   string
	batchSize   int
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "featureload",
	Short: "Manage the PostGIS reference feature catalog",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the feature table and its spatial index",
	RunE:  runInit,
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Upsert a GeoJSON FeatureCollection into the feature table",
	RunE:  runLoad,
}

func init() {
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&table, "table", envOr("FEATURES_TABLE", "features"), "Feature table name")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "info"), "Log level")

	loadCmd.Flags().StringVarP(&inputFile, "file", "f", "", "GeoJSON FeatureCollection file")
	loadCmd.Flags().IntVarP(&batchSize, "batch", "b", 500, "Features per transaction")
	_ = loadCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(initCmd, loadCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func open(ctx context.Context) (*postgis.Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	return postgis.Open(ctx, databaseURL, table)
}

func runInit(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		return err
	}
	zl := logger.Build(logger.Config{Level: logLevel, Console: true, Component: "featureload"}, os.Stderr)
	zl.Info().Str("table", table).Msg("schema ready")
	return nil
}

func runLoad(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	zl := logger.Build(logger.Config{Level: logLevel, Console: true, Component: "featureload"}, os.Stderr)

	fs, err := readCollection(inputFile)
	if err != nil {
		return err
	}
	incomplete := 0
	for _, f := range fs {
		if missing := f.MissingProperties(); len(missing) > 0 {
			incomplete++
			zl.Warn().Str("feature_id", f.ID).Strs("missing", missing).Msg("feature missing standard properties")
		}
	}

	st, err := open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		return err
	}

	if batchSize <= 0 {
		batchSize = len(fs)
	}
	total := 0
	for lo := 0; lo < len(fs); lo += batchSize {
		hi := min(lo+batchSize, len(fs))
		n, err := st.Insert(ctx, fs[lo:hi])
		if err != nil {
			return fmt.Errorf("batch at %d: %w", lo, err)
		}
		total += n
		zl.Debug().Int("from", lo).Int("to", hi).Msg("batch committed")
	}
	zl.Info().Int("features", total).Int("incomplete", incomplete).Str("table", table).Str("file", inputFile).Msg("load complete")
	return nil
}

// readCollection decodes a FeatureCollection, skipping features without a
// geometry and assigning positional ids to unnamed ones.
func readCollection(path string) ([]model.Feature, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out := make([]model.Feature, 0, len(fc.Features))
	for i, gf := range fc.Features {
		f := model.FromGeoJSON(gf)
		if f.Geometry == nil {
			continue
		}
		if f.ID == "" {
			f.ID = fmt.Sprintf("feature-%d", i)
		}
		out = append(out, f)
	}
	return out, nil
}
