package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// indexSpec declares one index on a final table.
type indexSpec struct {
	table   string
	column  string
	method  string // "" means btree
	pattern bool   // add varchar_pattern_ops for LIKE 'prefix%' scans
}

// finalIndexes lists the indexes created after ingestion: the spatial lookup
// on the polygon, plus plain and pattern btrees on the join keys. Pattern
// variants exist because a plain btree on a varchar column cannot serve
// prefix LIKE queries under non-C collations.
var finalIndexes = []indexSpec{
	{table: "postcode", column: "polygon", method: "gist"},
	{table: "postcode", column: "postcode"},
	{table: "postcode", column: "postcode", pattern: true},
	{table: "vstreetlookup", column: "postcode"},
	{table: "vstreetlookup", column: "postcode", pattern: true},
	{table: "vstreetlookup", column: "vstreet_ref"},
	{table: "vstreetlookup", column: "vstreet_ref", pattern: true},
}

func (s indexSpec) indexName() string {
	if s.pattern {
		return fmt.Sprintf("%s_%s_like_idx", s.table, s.column)
	}
	return fmt.Sprintf("%s_%s_idx", s.table, s.column)
}

// ddl renders the CREATE INDEX statement against the table's actual handle.
// IF NOT EXISTS keeps the stage re-runnable over tables that were not
// rebuilt since the last run.
func (s indexSpec) ddl(t tableRef) string {
	method := s.method
	if method == "" {
		method = "btree"
	}
	expr := pgIdent(s.column)
	if s.pattern {
		expr += " varchar_pattern_ops"
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING %s (%s)",
		pgIdent(s.indexName()), t.qualified(), method, expr)
}

// indexStatements matches declared indexes to the tables actually produced
// this run.
func indexStatements(tables []tableRef) []string {
	var stmts []string
	for _, t := range tables {
		for _, s := range finalIndexes {
			if s.table != t.name {
				continue
			}
			stmts = append(stmts, s.ddl(t))
		}
	}
	return stmts
}

// createIndexes indexes the final tables in one transactional batch.
func (p *pipeline) createIndexes(ctx context.Context, tables ...tableRef) error {
	stmts := indexStatements(tables)
	log.Info().Msgf("  creating %d indexes...", len(stmts))
	return p.db.execBatch(ctx, "create indexes", stmts)
}
