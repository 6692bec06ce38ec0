package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:     "pgcodepoint [config.toml]",
	Short:   "Postcode dataset loader for PostgreSQL/PostGIS",
	Args:    cobra.MaximumNArgs(1),
	Version: versionString(),
	RunE:    runPipeline,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to pipeline TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto", "log output format (auto, human, json)")
	rootCmd.PersistentPreRunE = setupLogging
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging points the global logger at stderr, with the console writer
// when that is a terminal (or when forced by --log-format).
func setupLogging(cmd *cobra.Command, args []string) error {
	switch logFormat {
	case "human":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	case "json":
		log.Logger = log.Output(os.Stderr)
	case "auto":
		if isatty.IsTerminal(os.Stderr.Fd()) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		} else {
			log.Logger = log.Output(os.Stderr)
		}
	default:
		return fmt.Errorf("unknown log format %q (must be auto, human or json)", logFormat)
	}

	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return fmt.Errorf("unknown log level %q", logLevel)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	// Resolve config path: positional arg takes precedence over --config flag
	cfgPath := configPath
	if len(args) > 0 {
		cfgPath = args[0]
	}
	if cfgPath == "" {
		return fmt.Errorf("config file required: pgcodepoint <config.toml> or pgcodepoint --config <config.toml>")
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	start := time.Now()

	log.Info().Msgf("pgcodepoint — postcode dataset → PostgreSQL")
	log.Info().Msgf("config: schema=%s data_dir=%s converter=%s keep_working_dir=%t ledger=%t",
		cfg.Schema, cfg.DataDir, cfg.Converter.Path, cfg.KeepWorkingDir, cfg.Ledger.Enabled)

	log.Info().Msgf("connecting to PostgreSQL...")
	db, err := connectDatabase(ctx, cfg.dsn())
	if err != nil {
		return err
	}
	defer db.close()

	log.Info().Msgf("preparing schema '%s'...", cfg.Schema)
	if err := ensureSchema(ctx, db.pool, cfg.Schema); err != nil {
		return err
	}

	var ledger *runLedger
	if cfg.Ledger.Enabled {
		ledger, err = openLedger(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer ledger.close()
	}

	p := newPipeline(cfg, db, newConverter(cfg), ledger)
	if err := p.run(ctx); err != nil {
		return err
	}

	log.Info().Msgf("pipeline completed in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

type schemaExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// ensureSchema creates the target schema when missing. The converter's
// active_schema option assumes it already exists.
func ensureSchema(ctx context.Context, exec schemaExecutor, schema string) error {
	if schema == "public" {
		return nil
	}
	if _, err := exec.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgIdent(schema))); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
