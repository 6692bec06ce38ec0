package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// pipeline runs one full dataset load. Stage outputs travel between stages
// as explicit table handles; nothing is global.
type pipeline struct {
	cfg    *Config
	db     *database
	conv   *converter
	ledger *runLedger

	// set by prepare
	archivePath string
	headerPath  string
	archive     *dataArchive
	plan        *columnPlan
	runID       string
}

func newPipeline(cfg *Config, db *database, conv *converter, ledger *runLedger) *pipeline {
	return &pipeline{cfg: cfg, db: db, conv: conv, ledger: ledger}
}

// table returns a handle in the configured schema.
func (p *pipeline) table(name string) tableRef {
	return tableRef{schema: p.cfg.Schema, name: name}
}

// run executes the stages in order, halting on the first failure. The
// working directory is cleaned only after everything succeeded, so a failed
// run can be retried without re-fetching the dataset.
func (p *pipeline) run(ctx context.Context) (err error) {
	p.runID, err = p.ledger.begin()
	if err != nil {
		return err
	}
	defer func() { p.ledger.finish(p.runID, err) }()
	defer func() {
		if p.archive != nil {
			p.archive.close()
		}
	}()
	defer func() {
		if err != nil {
			log.Warn().Msgf("run failed, keeping working directory %s for retry", p.cfg.DataDir)
		}
	}()

	log.Info().Msgf("preparing working directory %s...", p.cfg.DataDir)
	if err = p.prepare(ctx); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	log.Info().Msgf("loading postcode polygons...")
	geom, err := p.loadPolygons(ctx)
	if err != nil {
		return fmt.Errorf("geometry ingest: %w", err)
	}

	log.Info().Msgf("loading postcode attributes...")
	postcodes, err := p.loadAttributes(ctx, geom)
	if err != nil {
		return fmt.Errorf("attribute ingest: %w", err)
	}

	log.Info().Msgf("loading vertical streets...")
	streets, err := p.loadStreets(ctx)
	if err != nil {
		return fmt.Errorf("street ingest: %w", err)
	}

	if err = p.runHookFiles(ctx, p.cfg.Hooks.AfterLoad, "after_load"); err != nil {
		return err
	}

	log.Info().Msgf("indexing %s and %s...", postcodes, streets)
	if err = p.createIndexes(ctx, postcodes, streets); err != nil {
		return fmt.Errorf("indexing: %w", err)
	}

	if err = p.runHookFiles(ctx, p.cfg.Hooks.AfterIndex, "after_index"); err != nil {
		return err
	}

	if err = p.cleanup(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// prepare locates the run's input files, parses the header into the rename
// plan, and clears staging tables left behind by aborted runs. Failing here
// costs nothing: no data has moved yet.
func (p *pipeline) prepare(ctx context.Context) error {
	archivePath, headerPath, err := locateInputs(p.cfg.DataDir)
	if err != nil {
		return err
	}
	p.archivePath = archivePath
	p.headerPath = headerPath
	log.Info().Msgf("  archive %s", filepath.Base(archivePath))

	plan, err := loadColumnPlan(headerPath, p.cfg.Attributes.ExcludeColumns)
	if err != nil {
		return err
	}
	p.plan = plan
	log.Info().Msgf("  header %s: %d columns, %d projected",
		filepath.Base(headerPath), len(plan.Mappings), len(plan.included()))
	for _, w := range planWarnings(plan) {
		log.Warn().Msgf("  %s", w)
	}

	arc, err := openArchive(archivePath)
	if err != nil {
		return err
	}
	p.archive = arc

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", p.table("postcode_poly_staging").qualified()),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", p.table("postcode_attr_staging").qualified()),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", p.table("vstreet_staging").qualified()),
	}
	return p.db.execBatch(ctx, "drop leftover staging tables", stmts)
}

// locateInputs finds exactly one release archive (*.zip) and one header
// description file (*.csv) in dir. Anything else is ambiguity, not choice.
func locateInputs(dir string) (archive, header string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("read data_dir: %w", err)
	}
	var zips, csvs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".zip"):
			zips = append(zips, name)
		case strings.HasSuffix(name, ".csv"):
			csvs = append(csvs, name)
		}
	}
	if len(zips) != 1 {
		return "", "", fmt.Errorf("data_dir %s must hold exactly one .zip archive, found %d", dir, len(zips))
	}
	if len(csvs) != 1 {
		return "", "", fmt.Errorf("data_dir %s must hold exactly one .csv header file, found %d", dir, len(csvs))
	}
	return filepath.Join(dir, zips[0]), filepath.Join(dir, csvs[0]), nil
}

// cleanup removes the consumed input files. Skipped entirely when
// keep_working_dir is set.
func (p *pipeline) cleanup() error {
	if p.cfg.KeepWorkingDir {
		log.Info().Msgf("keep_working_dir set, leaving %s untouched", p.cfg.DataDir)
		return nil
	}
	if p.archive != nil {
		p.archive.close()
		p.archive = nil
	}
	log.Info().Msgf("cleaning up working directory...")
	for _, f := range []string{p.archivePath, p.headerPath} {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("remove %s: %w", f, err)
		}
		log.Info().Msgf("  removed %s", filepath.Base(f))
	}
	return nil
}
