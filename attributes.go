package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// attributeCast declares the storage type for a known attribute column.
// Numeric casts need an explicit USING clause because the converter stages
// every CSV column as text.
type attributeCast struct {
	column  string
	sqlType string
	numeric bool
}

// attributeCasts lists every attribute column with a declared storage type.
// Header columns outside this list keep the converter's text type.
var attributeCasts = []attributeCast{
	{"positional_quality_indicator", "int", true},
	{"po_box_indicator", "varchar(2)", false},
	{"total_number_of_delivery_points", "int", true},
	{"domestic_delivery_points", "int", true},
	{"non_domestic_delivery_points", "int", true},
	{"po_box_delivery_points", "int", true},
	{"matched_address_premises", "int", true},
	{"unmatched_delivery_points", "int", true},
	{"country_code", "varchar(16)", false},
	{"nhs_regional_ha_code", "varchar(16)", false},
	{"nhs_ha_code", "varchar(16)", false},
	{"admin_county_code", "varchar(16)", false},
	{"admin_district_code", "varchar(16)", false},
	{"admin_ward_code", "varchar(16)", false},
	{"postcode_type", "varchar(2)", false},
}

// loadAttributes imports the attribute CSVs into a staging table, joins them
// onto the geometry table, and returns the handle of the final postcode
// table. The geometry table is consumed: it is dropped once its columns are
// folded in.
func (p *pipeline) loadAttributes(ctx context.Context, geom tableRef) (tableRef, error) {
	staging := p.table("postcode_attr_staging")
	target := p.table("postcode")

	csvs := p.archive.find(".csv", p.cfg.Archive.CSVPrefix)
	sort.Strings(csvs)
	if len(csvs) == 0 {
		return tableRef{}, fmt.Errorf("no attribute files under %s in %s", p.cfg.Archive.CSVPrefix, p.archivePath)
	}
	log.Info().Msgf("  %d attribute files under %s", len(csvs), p.cfg.Archive.CSVPrefix)

	var total int64
	for _, name := range csvs {
		log.Info().Msgf("  importing %s...", name)
		if err := p.conv.loadCSV(ctx, vsiPath(p.archivePath, name), staging); err != nil {
			return tableRef{}, err
		}
		n, err := p.db.rowCount(ctx, staging)
		if err != nil {
			return tableRef{}, err
		}
		if n <= total {
			return tableRef{}, fmt.Errorf("import %s: no rows appended to %s", name, staging)
		}
		log.Info().Msgf("    %d rows (+%d)", n, n-total)
		p.ledger.event(p.runID, "attributes", name, n-total)
		total = n
	}

	if err := p.db.execBatch(ctx, "consolidate postcode attributes", attributeStatements(staging, geom, target, p.plan)); err != nil {
		return tableRef{}, err
	}
	log.Info().Msgf("  %s ready", target)
	return target, nil
}

// renameStatements renames the converter's positional columns to the header
// names, one statement per column so a failure points at the exact mapping.
func renameStatements(staging tableRef, plan *columnPlan) []string {
	var stmts []string
	for _, m := range plan.Mappings {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			staging.qualified(), pgIdent(m.Generic), pgIdent(m.Target)))
	}
	return stmts
}

// projection builds the SELECT list for the final table: geometry identity
// first, projected attributes in header order, the polygon last.
func projection(staging, geom tableRef, plan *columnPlan) string {
	cols := []string{
		geom.qualified() + ".id",
		geom.qualified() + ".postcode",
		geom.qualified() + ".pc_area",
	}
	for _, name := range plan.included() {
		cols = append(cols, staging.qualified()+"."+pgIdent(name))
	}
	cols = append(cols, geom.qualified()+".polygon")
	return strings.Join(cols, ", ")
}

// castStatements narrows the text columns the converter staged to their
// declared types. Only columns present in the plan are cast, each in its own
// statement so one bad column names itself.
func castStatements(target tableRef, plan *columnPlan) []string {
	var stmts []string
	for _, c := range attributeCasts {
		if !plan.includes(c.column) {
			continue
		}
		if c.numeric {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::integer",
				target.qualified(), pgIdent(c.column), c.sqlType, pgIdent(c.column)))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s",
				target.qualified(), pgIdent(c.column), c.sqlType))
		}
	}
	return stmts
}

// attributeStatements builds the full consolidation batch: renames, the
// RIGHT JOIN onto the geometry table (every polygon survives, attribute-less
// postcodes carry NULLs), type narrowing, then teardown of both inputs.
func attributeStatements(staging, geom, target tableRef, plan *columnPlan) []string {
	stmts := renameStatements(staging, plan)
	stmts = append(stmts,
		fmt.Sprintf("DROP TABLE IF EXISTS %s", target.qualified()),
		fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM %s RIGHT JOIN %s ON %s.postcode = %s.postcode",
			target.qualified(), projection(staging, geom, plan),
			staging.qualified(), geom.qualified(), geom.qualified(), staging.qualified()),
	)
	stmts = append(stmts, castStatements(target, plan)...)
	stmts = append(stmts,
		fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (id)", target.qualified()),
		fmt.Sprintf("DROP TABLE %s", geom.qualified()),
		fmt.Sprintf("DROP TABLE %s", staging.qualified()),
	)
	return stmts
}
