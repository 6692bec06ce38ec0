package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// dataArchive navigates a dataset zip without extracting entries to disk.
// Nested archives are read fully into memory; everything else is streamed.
type dataArchive struct {
	reader *zip.Reader
	closer io.Closer // nil for nested archives
	name   string
}

// openArchive opens the release archive at path.
func openArchive(path string) (*dataArchive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	return &dataArchive{reader: &rc.Reader, closer: rc, name: path}, nil
}

func (a *dataArchive) close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// find returns entry names ending in suffix, optionally restricted to a path
// prefix. Matching is by name only; entry contents are never read. Order is
// whatever the archive directory holds, so callers sort when it matters.
func (a *dataArchive) find(suffix, prefix string) []string {
	var names []string
	for _, f := range a.reader.File {
		if !strings.HasSuffix(f.Name, suffix) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

// open streams the raw bytes of a single entry.
func (a *dataArchive) open(name string) (io.ReadCloser, error) {
	f := a.entry(name)
	if f == nil {
		return nil, fmt.Errorf("archive %s: no entry %q", a.name, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archive %s: open %q: %w", a.name, name, err)
	}
	return rc, nil
}

// openNested opens a zip entry as an in-memory sub-archive.
func (a *dataArchive) openNested(name string) (*dataArchive, error) {
	rc, err := a.open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive %s: read %q: %w", a.name, name, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive %s: entry %q is not a zip archive: %w", a.name, name, err)
	}
	return &dataArchive{reader: zr, name: a.name + "/" + name}, nil
}

func (a *dataArchive) entry(name string) *zip.File {
	for _, f := range a.reader.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}
