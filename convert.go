package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// converter invokes the external ogr2ogr binary to load archive entries into
// staging tables through GDAL's zip-aware virtual filesystem. Every
// invocation is bounded by a timeout and checked for a zero exit status.
type converter struct {
	path    string // converter binary, resolved via PATH when not absolute
	connStr string // PG: datasource string for the -f PostgreSQL target
	timeout time.Duration
}

func newConverter(cfg *Config) *converter {
	return &converter{
		path:    cfg.Converter.Path,
		connStr: cfg.ogrConnString(),
		timeout: time.Duration(cfg.Converter.TimeoutSeconds) * time.Second,
	}
}

// convertError reports a failed converter invocation.
type convertError struct {
	Entry    string
	ExitCode int // -1 when the process never ran or was killed
	TimedOut bool
	Stderr   string
	Err      error
}

func (e *convertError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("convert %s: timed out: %v", e.Entry, e.Err)
	case e.ExitCode >= 0 && e.Stderr != "":
		return fmt.Sprintf("convert %s: exit status %d: %s", e.Entry, e.ExitCode, e.Stderr)
	case e.ExitCode >= 0:
		return fmt.Sprintf("convert %s: exit status %d", e.Entry, e.ExitCode)
	default:
		return fmt.Sprintf("convert %s: %v", e.Entry, e.Err)
	}
}

func (e *convertError) Unwrap() error { return e.Err }

// shapefileArgs builds the argument list for importing one shapefile layer.
// Geometries are promoted to MULTIPOLYGON and reprojected to EPSG:4326 so
// every source layer lands in one uniform staging table.
func (c *converter) shapefileArgs(vsiPath string, dest tableRef) []string {
	return []string{
		"-f", "PostgreSQL", c.connStr, vsiPath,
		"-nln", dest.name,
		"-nlt", "MULTIPOLYGON",
		"-append",
		"-t_srs", "EPSG:4326",
	}
}

// csvArgs builds the argument list for importing one delimited attribute
// file. No geometry flags: headerless CSV columns come through as text
// field_1..field_N.
func (c *converter) csvArgs(vsiPath string, dest tableRef) []string {
	return []string{
		"-f", "PostgreSQL", c.connStr, vsiPath,
		"-nln", dest.name,
		"-append",
	}
}

func (c *converter) loadShapefile(ctx context.Context, vsiPath string, dest tableRef) error {
	return c.run(ctx, vsiPath, c.shapefileArgs(vsiPath, dest))
}

func (c *converter) loadCSV(ctx context.Context, vsiPath string, dest tableRef) error {
	return c.run(ctx, vsiPath, c.csvArgs(vsiPath, dest))
}

func (c *converter) run(ctx context.Context, entry string, args []string) error {
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	cerr := &convertError{Entry: entry, ExitCode: -1, Stderr: stderrTail(stderr.String()), Err: err}
	if runCtx.Err() == context.DeadlineExceeded {
		cerr.TimedOut = true
		return cerr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	}
	return cerr
}

// stderrTail keeps the last few lines of converter output for error messages.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	const keep = 5
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return strings.Join(lines, "\n")
}

// vsiPath builds GDAL's virtual path for an entry of the release archive.
func vsiPath(archivePath, entry string) string {
	return "/vsizip/" + archivePath + "/" + entry
}

// vsiNestedPath builds the doubled virtual path for an entry of a zip nested
// inside the release archive.
func vsiNestedPath(archivePath, nestedEntry, entry string) string {
	return "/vsizip/vsizip/" + archivePath + "/" + nestedEntry + "/" + entry
}
