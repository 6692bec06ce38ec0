package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

// loadPolygons imports every shapefile found in the archive's nested zips
// into a staging table, reshapes it into the geometry table, and returns its
// handle. The staging table is created by the converter on first append.
func (p *pipeline) loadPolygons(ctx context.Context) (tableRef, error) {
	staging := p.table("postcode_poly_staging")
	geom := p.table("postcode_polygons")

	type shapeEntry struct {
		zipName string
		shp     string
	}
	var shapes []shapeEntry

	nested := p.archive.find(".zip", "")
	sort.Strings(nested)
	for _, zipEntry := range nested {
		sub, err := p.archive.openNested(zipEntry)
		if err != nil {
			return tableRef{}, err
		}
		shps := sub.find(".shp", "")
		sort.Strings(shps)
		for _, s := range shps {
			shapes = append(shapes, shapeEntry{zipName: zipEntry, shp: s})
		}
	}
	if len(shapes) == 0 {
		return tableRef{}, fmt.Errorf("no shapefiles inside nested archives of %s", p.archivePath)
	}
	log.Info().Msgf("  %d shapefiles in %d nested archives", len(shapes), len(nested))

	var total int64
	for _, se := range shapes {
		log.Info().Msgf("  importing %s/%s...", se.zipName, se.shp)
		path := vsiNestedPath(p.archivePath, se.zipName, se.shp)
		if err := p.conv.loadShapefile(ctx, path, staging); err != nil {
			return tableRef{}, err
		}
		n, err := p.db.rowCount(ctx, staging)
		if err != nil {
			return tableRef{}, err
		}
		// The converter exits zero even when a layer yields nothing; an
		// import that adds no rows means the archive is not what we think.
		if n <= total {
			return tableRef{}, fmt.Errorf("import %s: no rows appended to %s", se.shp, staging)
		}
		log.Info().Msgf("    %d rows (+%d)", n, n-total)
		p.ledger.event(p.runID, "geometry", se.shp, n-total)
		total = n
	}

	if err := p.db.execBatch(ctx, "reshape geometry staging", polygonStatements(staging, geom)); err != nil {
		return tableRef{}, err
	}
	log.Info().Msgf("  %s ready (%d polygons)", geom, total)
	return geom, nil
}

// polygonStatements reshapes the converter's staging output into the
// geometry table: stable column names, a primary key, geography storage.
func polygonStatements(staging, geom tableRef) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s RENAME COLUMN ogc_fid TO id", staging.qualified()),
		fmt.Sprintf("ALTER TABLE %s RENAME COLUMN wkb_geometry TO polygon", staging.qualified()),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", geom.qualified()),
		fmt.Sprintf("CREATE TABLE %s AS SELECT id, postcode, pc_area, polygon FROM %s", geom.qualified(), staging.qualified()),
		fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (id)", geom.qualified()),
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN polygon TYPE geography", geom.qualified()),
		fmt.Sprintf("DROP TABLE %s", staging.qualified()),
	}
}
