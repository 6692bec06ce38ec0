package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// loadStreets streams the vertical-street files straight into a typed
// staging table over COPY (no converter involved: the files are plain
// two-column CSV), then materializes the lookup table with a surrogate key
// and returns its handle.
func (p *pipeline) loadStreets(ctx context.Context) (tableRef, error) {
	staging := p.table("vstreet_staging")
	target := p.table("vstreetlookup")

	if err := p.db.execBatch(ctx, "reset street tables", streetResetStatements(staging, target)); err != nil {
		return tableRef{}, err
	}

	txts := p.archive.find(".TXT", p.cfg.Archive.StreetPrefix)
	sort.Strings(txts)
	if len(txts) == 0 {
		return tableRef{}, fmt.Errorf("no street files under %s in %s", p.cfg.Archive.StreetPrefix, p.archivePath)
	}
	log.Info().Msgf("  %d street files under %s", len(txts), p.cfg.Archive.StreetPrefix)

	var total int64
	for _, name := range txts {
		rc, err := p.archive.open(name)
		if err != nil {
			return tableRef{}, err
		}
		n, err := p.db.copyFrom(ctx, staging, name, rc)
		rc.Close()
		if err != nil {
			return tableRef{}, err
		}
		// Vertical streets are rare; an empty file is legitimate.
		if n == 0 {
			log.Warn().Msgf("  %s: empty", name)
		} else {
			log.Info().Msgf("  %s: %d rows", name, n)
		}
		p.ledger.event(p.runID, "streets", name, n)
		total += n
	}

	if err := p.db.execBatch(ctx, "materialize street lookup", streetFinalizeStatements(staging, target)); err != nil {
		return tableRef{}, err
	}
	log.Info().Msgf("  %s ready (%d rows)", target, total)
	return target, nil
}

// streetResetStatements drops previous results and creates the typed staging
// table the COPY streams land in.
func streetResetStatements(staging, target tableRef) []string {
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", staging.qualified()),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", target.qualified()),
		fmt.Sprintf("CREATE TABLE %s (postcode varchar(8), vstreet_ref varchar(8))", staging.qualified()),
	}
}

// streetFinalizeStatements backfills a surrogate key in insertion order and
// materializes the lookup table from it.
func streetFinalizeStatements(staging, target tableRef) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN id BIGSERIAL", staging.qualified()),
		fmt.Sprintf("CREATE TABLE %s AS SELECT id, postcode, vstreet_ref FROM %s", target.qualified(), staging.qualified()),
		fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (id)", target.qualified()),
		fmt.Sprintf("DROP TABLE %s", staging.qualified()),
	}
}
