package main

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

// zipBytes builds an in-memory zip holding the given entries, written in
// sorted name order so tests see a stable directory.
func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", n, err)
		}
		if _, err := w.Write(entries[n]); err != nil {
			t.Fatalf("write zip entry %s: %v", n, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func writeTestZip(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()
	if err := os.WriteFile(path, zipBytes(t, entries), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestArchiveFind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "release.zip")
	writeTestZip(t, path, map[string][]byte{
		"Code-Point/Data/CSV/ab.csv":            []byte("x"),
		"Code-Point/Data/CSV/al.csv":            []byte("y"),
		"Code-Point/Doc/licence.csv":            []byte("z"),
		"Polygons/Data/VERTICAL_STREETS/v1.TXT": []byte("s"),
		"Polygons/Data/ab.zip":                  []byte("not really"),
		"readme.txt":                            []byte("r"),
	})

	arc, err := openArchive(path)
	if err != nil {
		t.Fatalf("openArchive() error: %v", err)
	}
	defer arc.close()

	got := arc.find(".csv", "Code-Point/Data/CSV")
	sort.Strings(got)
	want := []string{"Code-Point/Data/CSV/ab.csv", "Code-Point/Data/CSV/al.csv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("find(.csv, prefix) = %v, want %v", got, want)
	}

	if got := arc.find(".csv", ""); len(got) != 3 {
		t.Errorf("find(.csv) = %v, want all three csv entries", got)
	}
	if got := arc.find(".TXT", "Polygons/Data/VERTICAL_STREETS"); len(got) != 1 {
		t.Errorf("find(.TXT, prefix) = %v, want one entry", got)
	}
	if got := arc.find(".shp", ""); got != nil {
		t.Errorf("find(.shp) = %v, want nil", got)
	}
}

func TestArchiveOpenEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "release.zip")
	writeTestZip(t, path, map[string][]byte{
		"Polygons/Data/VERTICAL_STREETS/v1.TXT": []byte("\"AB1 2CD\",\"00001\"\n"),
	})

	arc, err := openArchive(path)
	if err != nil {
		t.Fatalf("openArchive() error: %v", err)
	}
	defer arc.close()

	rc, err := arc.open("Polygons/Data/VERTICAL_STREETS/v1.TXT")
	if err != nil {
		t.Fatalf("open() error: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if string(data) != "\"AB1 2CD\",\"00001\"\n" {
		t.Errorf("entry content = %q", data)
	}
}

func TestArchiveOpenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "release.zip")
	writeTestZip(t, path, map[string][]byte{"a.txt": []byte("x")})

	arc, err := openArchive(path)
	if err != nil {
		t.Fatalf("openArchive() error: %v", err)
	}
	defer arc.close()

	if _, err := arc.open("missing.txt"); err == nil {
		t.Fatal("expected error for missing entry")
	}
}

func TestArchiveOpenNested(t *testing.T) {
	dir := t.TempDir()
	inner := zipBytes(t, map[string][]byte{
		"ab/ab.shp": []byte("shapefile bytes"),
		"ab/ab.dbf": []byte("dbf bytes"),
	})
	path := filepath.Join(dir, "release.zip")
	writeTestZip(t, path, map[string][]byte{
		"ab.zip":     inner,
		"header.txt": []byte("h"),
	})

	arc, err := openArchive(path)
	if err != nil {
		t.Fatalf("openArchive() error: %v", err)
	}
	defer arc.close()

	sub, err := arc.openNested("ab.zip")
	if err != nil {
		t.Fatalf("openNested() error: %v", err)
	}
	if got := sub.find(".shp", ""); len(got) != 1 || got[0] != "ab/ab.shp" {
		t.Errorf("nested find(.shp) = %v, want [ab/ab.shp]", got)
	}

	// Nested navigation must not extract anything next to the archive.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "release.zip" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("working dir now holds %v, want only release.zip", names)
	}
}

func TestArchiveOpenNestedNotZip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "release.zip")
	writeTestZip(t, path, map[string][]byte{"fake.zip": []byte("plain text, not an archive")})

	arc, err := openArchive(path)
	if err != nil {
		t.Fatalf("openArchive() error: %v", err)
	}
	defer arc.close()

	if _, err := arc.openNested("fake.zip"); err == nil {
		t.Fatal("expected error for non-zip nested entry")
	}
}

func TestOpenArchiveMissingFile(t *testing.T) {
	if _, err := openArchive(filepath.Join(t.TempDir(), "nope.zip")); err == nil {
		t.Fatal("expected error for missing archive")
	}
}
