package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestShapefileArgs(t *testing.T) {
	c := &converter{connStr: "PG:host='localhost' port='5432' dbname='geo' user='loader'"}
	dest := tableRef{schema: "public", name: "postcode_poly_staging"}
	path := "/vsizip/vsizip//data/release.zip/ab.zip/ab/ab.shp"

	got := c.shapefileArgs(path, dest)
	want := []string{
		"-f", "PostgreSQL", c.connStr, path,
		"-nln", "postcode_poly_staging",
		"-nlt", "MULTIPOLYGON",
		"-append",
		"-t_srs", "EPSG:4326",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("shapefileArgs() =\n  %v\nwant:\n  %v", got, want)
	}
}

func TestCSVArgs(t *testing.T) {
	c := &converter{connStr: "PG:host='localhost' port='5432' dbname='geo' user='loader'"}
	dest := tableRef{schema: "public", name: "postcode_attr_staging"}
	path := "/vsizip//data/release.zip/Code-Point/Data/CSV/ab.csv"

	got := c.csvArgs(path, dest)
	want := []string{
		"-f", "PostgreSQL", c.connStr, path,
		"-nln", "postcode_attr_staging",
		"-append",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("csvArgs() =\n  %v\nwant:\n  %v", got, want)
	}
	for _, a := range got {
		if a == "-nlt" || a == "-t_srs" {
			t.Errorf("csvArgs() carries geometry flag %q", a)
		}
	}
}

func TestVsiPaths(t *testing.T) {
	if got := vsiPath("/data/release.zip", "Code-Point/Data/CSV/ab.csv"); got != "/vsizip//data/release.zip/Code-Point/Data/CSV/ab.csv" {
		t.Errorf("vsiPath() = %q", got)
	}
	if got := vsiNestedPath("/data/release.zip", "ab.zip", "ab/ab.shp"); got != "/vsizip/vsizip//data/release.zip/ab.zip/ab/ab.shp" {
		t.Errorf("vsiNestedPath() = %q", got)
	}
}

func TestStderrTail(t *testing.T) {
	if got := stderrTail(""); got != "" {
		t.Errorf("stderrTail(empty) = %q", got)
	}
	if got := stderrTail("one line\n"); got != "one line" {
		t.Errorf("stderrTail(one line) = %q", got)
	}
	long := "l1\nl2\nl3\nl4\nl5\nl6\nl7"
	got := stderrTail(long)
	if strings.Contains(got, "l1") || !strings.Contains(got, "l7") {
		t.Errorf("stderrTail(long) = %q, want only trailing lines", got)
	}
	if len(strings.Split(got, "\n")) != 5 {
		t.Errorf("stderrTail(long) kept %d lines, want 5", len(strings.Split(got, "\n")))
	}
}

// writeFakeConverter writes a shell script standing in for the converter
// binary.
func writeFakeConverter(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake converter scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ogr2ogr")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConverterRun_Success(t *testing.T) {
	c := &converter{path: writeFakeConverter(t, "exit 0\n"), timeout: time.Minute}
	if err := c.run(context.Background(), "ab.shp", nil); err != nil {
		t.Fatalf("run() error: %v", err)
	}
}

func TestConverterRun_ExitStatus(t *testing.T) {
	c := &converter{path: writeFakeConverter(t, "echo boom >&2\nexit 3\n"), timeout: time.Minute}

	err := c.run(context.Background(), "ab.shp", nil)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	var cerr *convertError
	if !errors.As(err, &cerr) {
		t.Fatalf("error type %T, want *convertError", err)
	}
	if cerr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", cerr.ExitCode)
	}
	if !strings.Contains(cerr.Stderr, "boom") {
		t.Errorf("Stderr = %q, want converter output captured", cerr.Stderr)
	}
	if cerr.TimedOut {
		t.Errorf("TimedOut = true for plain failure")
	}
	if !strings.Contains(err.Error(), "ab.shp") {
		t.Errorf("Error() = %q, want entry named", err.Error())
	}
}

func TestConverterRun_Timeout(t *testing.T) {
	c := &converter{path: writeFakeConverter(t, "sleep 5\n"), timeout: 100 * time.Millisecond}

	err := c.run(context.Background(), "ab.shp", nil)
	if err == nil {
		t.Fatal("expected error for timed-out converter")
	}
	var cerr *convertError
	if !errors.As(err, &cerr) {
		t.Fatalf("error type %T, want *convertError", err)
	}
	if !cerr.TimedOut {
		t.Errorf("TimedOut = false, want true")
	}
}

func TestConverterRun_MissingBinary(t *testing.T) {
	c := &converter{path: filepath.Join(t.TempDir(), "no-such-binary"), timeout: time.Minute}

	err := c.run(context.Background(), "ab.shp", nil)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	var cerr *convertError
	if !errors.As(err, &cerr) {
		t.Fatalf("error type %T, want *convertError", err)
	}
	if cerr.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 when the process never ran", cerr.ExitCode)
	}
}

func TestNewConverter(t *testing.T) {
	cfg := &Config{
		Schema: "public",
		Postgres: PostgresConfig{
			Host: "localhost", Port: 5432, User: "loader", DBName: "geo",
		},
		Converter: ConverterConfig{Path: "ogr2ogr", TimeoutSeconds: 120},
	}
	c := newConverter(cfg)
	if c.path != "ogr2ogr" {
		t.Errorf("path = %q", c.path)
	}
	if c.timeout != 2*time.Minute {
		t.Errorf("timeout = %s, want 2m", c.timeout)
	}
	if !strings.HasPrefix(c.connStr, "PG:") {
		t.Errorf("connStr = %q, want PG: datasource", c.connStr)
	}
}
