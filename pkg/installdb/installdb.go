// Package installdb implements the line-oriented installed-package database
// described in spec section 3/4.4: a flat text file appended on install,
// spliced on remove, and rewritten in place on update.
package installdb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/model"
)

// Terminator is the forty-dash record-end marker.
const Terminator = "----------------------------------------"

// DB is a handle onto the installed database file at path. It is
// single-writer per process; callers must not share one DB across
// goroutines without external synchronization beyond what DB itself
// provides.
type DB struct {
	path string
	mu   sync.Mutex
}

// Open returns a handle onto the installed database at path, creating the
// parent directory if needed. The file itself is created lazily on first
// write.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(err, "failed to create installed-db directory")
	}
	return &DB{path: path}, nil
}

// Record is the parsed representation of one installed-database entry.
type Record struct {
	Name         string
	Version      string
	Description  string
	Size         string
	Architecture string
	UpdateTime   string
	Files        []string
	Dependencies []string
}

func headerLine(name string) string { return name + " /" }

func (db *DB) readLines() ([]string, error) {
	f, err := os.Open(db.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "failed to open installed database")
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// recordSpan locates the [start, end] line indices (inclusive) of the named
// record's header-to-terminator span, or ok=false if not found.
func recordSpan(lines []string, name string) (start, end int, ok bool) {
	want := headerLine(name)
	for i, l := range lines {
		if l == want {
			start = i
			for j := i + 1; j < len(lines); j++ {
				if lines[j] == Terminator {
					return start, j, true
				}
			}
			return 0, 0, false // unterminated record is a corrupt database
		}
	}
	return 0, 0, false
}

// IsInstalled reports whether name has a record in the database.
func (db *DB) IsInstalled(name string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	lines, err := db.readLines()
	if err != nil {
		return false, err
	}
	_, _, ok := recordSpan(lines, name)
	return ok, nil
}

// GetVersion returns the Version: field of name's record.
func (db *DB) GetVersion(name string) (string, error) {
	rec, err := db.GetRecord(name)
	if err != nil {
		return "", err
	}
	return rec.Version, nil
}

// GetUpdateTime returns the Update-time: (or legacy Build-date:) field of
// name's record.
func (db *DB) GetUpdateTime(name string) (string, error) {
	rec, err := db.GetRecord(name)
	if err != nil {
		return "", err
	}
	return rec.UpdateTime, nil
}

// GetFiles returns the absolute paths owned by name.
func (db *DB) GetFiles(name string) ([]string, error) {
	rec, err := db.GetRecord(name)
	if err != nil {
		return nil, err
	}
	return rec.Files, nil
}

// GetDependencies returns the dependency names declared by name's record.
func (db *DB) GetDependencies(name string) ([]string, error) {
	rec, err := db.GetRecord(name)
	if err != nil {
		return nil, err
	}
	return rec.Dependencies, nil
}

// GetRecord parses and returns the full record for name.
func (db *DB) GetRecord(name string) (Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	lines, err := db.readLines()
	if err != nil {
		return Record{}, err
	}
	start, end, ok := recordSpan(lines, name)
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", errs.ErrRecordNotFound, name)
	}
	return parseRecord(lines[start : end+1]), nil
}

// AllInstalledNames returns the name of every record in the database, in
// on-disk order.
func (db *DB) AllInstalledNames() ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	lines, err := db.readLines()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range lines {
		if strings.HasSuffix(l, " /") {
			names = append(names, strings.TrimSuffix(l, " /"))
		}
	}
	return names, nil
}

func parseRecord(block []string) Record {
	rec := Record{Name: strings.TrimSuffix(block[0], " /")}
	section := ""
	for _, line := range block[1:] {
		if line == Terminator {
			break
		}
		switch {
		case strings.HasPrefix(line, "Version:"):
			rec.Version = strings.TrimSpace(strings.TrimPrefix(line, "Version:"))
			section = ""
		case strings.HasPrefix(line, "Description:"):
			rec.Description = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
			section = ""
		case strings.HasPrefix(line, "Size:"):
			rec.Size = strings.TrimSpace(strings.TrimPrefix(line, "Size:"))
			section = ""
		case strings.HasPrefix(line, "Architecture:"):
			rec.Architecture = strings.TrimSpace(strings.TrimPrefix(line, "Architecture:"))
			section = ""
		case strings.HasPrefix(line, "Update-time:"):
			rec.UpdateTime = strings.TrimSpace(strings.TrimPrefix(line, "Update-time:"))
			section = ""
		case strings.HasPrefix(line, "Build-date:"):
			rec.UpdateTime = strings.TrimSpace(strings.TrimPrefix(line, "Build-date:"))
			section = ""
		case line == "Files:":
			section = "files"
		case line == "Dependencies:":
			section = "deps"
		case section == "files" && strings.HasPrefix(line, "/"):
			rec.Files = append(rec.Files, line)
		case section == "deps" && line != "":
			rec.Dependencies = append(rec.Dependencies, strings.TrimSpace(line))
		}
	}
	return rec
}

// GetReverseDependencies returns the names of every installed record whose
// Dependencies: section contains name.
func (db *DB) GetReverseDependencies(name string) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	lines, err := db.readLines()
	if err != nil {
		return nil, err
	}
	var result []string
	for i := 0; i < len(lines); i++ {
		if !strings.HasSuffix(lines[i], " /") {
			continue
		}
		end := i + 1
		for end < len(lines) && lines[end] != Terminator {
			end++
		}
		if end >= len(lines) {
			break
		}
		rec := parseRecord(lines[i : end+1])
		for _, dep := range rec.Dependencies {
			if dep == name {
				result = append(result, rec.Name)
				break
			}
		}
		i = end
	}
	return result, nil
}

// GetOrphans returns every installed package name that is not listed as a
// dependency of any other installed record, excluding the names in
// excluding.
func (db *DB) GetOrphans(excluding []string) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	lines, err := db.readLines()
	if err != nil {
		return nil, err
	}

	excludeSet := make(map[string]bool, len(excluding))
	for _, n := range excluding {
		excludeSet[n] = true
	}

	var all []string
	referenced := make(map[string]bool)
	for i := 0; i < len(lines); i++ {
		if !strings.HasSuffix(lines[i], " /") {
			continue
		}
		end := i + 1
		for end < len(lines) && lines[end] != Terminator {
			end++
		}
		if end >= len(lines) {
			break
		}
		rec := parseRecord(lines[i : end+1])
		all = append(all, rec.Name)
		for _, dep := range rec.Dependencies {
			if dep != rec.Name {
				referenced[dep] = true
			}
		}
		i = end
	}

	var orphans []string
	for _, name := range all {
		if !referenced[name] && !excludeSet[name] {
			orphans = append(orphans, name)
		}
	}
	return orphans, nil
}

// AppendInput is the data needed to serialize a new record.
type AppendInput struct {
	Name         string
	Version      string
	Description  string
	Size         string
	Architecture string
	UpdateTime   string
	Files        []string
	Dependencies []string
}

func serializeRecord(in AppendInput) []string {
	name := model.CanonicalName(in.Name)
	lines := []string{headerLine(name)}
	lines = append(lines, "Version: "+in.Version)
	if in.Description != "" {
		lines = append(lines, "Description: "+in.Description)
	}
	if in.Size != "" {
		lines = append(lines, "Size: "+in.Size)
	}
	if in.Architecture != "" {
		lines = append(lines, "Architecture: "+in.Architecture)
	}
	lines = append(lines, "Update-time: "+in.UpdateTime)
	lines = append(lines, "Files:")
	lines = append(lines, in.Files...)
	lines = append(lines, "Dependencies:")
	lines = append(lines, in.Dependencies...)
	lines = append(lines, Terminator)
	return lines
}

// AppendRecord serializes in and appends it to the database file. Duplicate
// package names are an invariant violation and are rejected.
func (db *DB) AppendRecord(in AppendInput) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	lines, err := db.readLines()
	if err != nil {
		return err
	}
	name := model.CanonicalName(in.Name)
	if _, _, ok := recordSpan(lines, name); ok {
		return fmt.Errorf("%w: %s", errs.ErrDuplicateRecord, name)
	}

	f, err := os.OpenFile(db.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(err, "failed to open installed database for append")
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriter(f)
	for _, line := range serializeRecord(in) {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return errs.Wrap(err, "failed to append record")
		}
	}
	if err := w.Flush(); err != nil {
		return errs.Wrap(err, "failed to flush installed database")
	}
	return f.Sync()
}

// SpliceRecord removes name's record, copying every other line to a
// tempfile and renaming it into place. If the rename fails the partial
// tempfile is removed.
func (db *DB) SpliceRecord(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	lines, err := db.readLines()
	if err != nil {
		return err
	}
	start, end, ok := recordSpan(lines, name)
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrRecordNotFound, name)
	}

	kept := make([]string, 0, len(lines)-(end-start+1))
	kept = append(kept, lines[:start]...)
	kept = append(kept, lines[end+1:]...)

	return db.rewriteAtomic(kept)
}

// UpdateVersionAndTime rewrites only the Version: and Update-time: lines
// (and a legacy Build-date: line, which takes the new update time) within
// name's record span, leaving everything else byte-for-byte unchanged.
func (db *DB) UpdateVersionAndTime(name, newVersion, newUpdateTime string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	lines, err := db.readLines()
	if err != nil {
		return err
	}
	start, end, ok := recordSpan(lines, name)
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrRecordNotFound, name)
	}

	for i := start + 1; i < end; i++ {
		switch {
		case strings.HasPrefix(lines[i], "Version:"):
			lines[i] = "Version: " + newVersion
		case strings.HasPrefix(lines[i], "Update-time:"):
			lines[i] = "Update-time: " + newUpdateTime
		case strings.HasPrefix(lines[i], "Build-date:"):
			lines[i] = "Build-date: " + newUpdateTime
		}
	}

	return db.rewriteAtomic(lines)
}

func (db *DB) rewriteAtomic(lines []string) error {
	dir := filepath.Dir(db.path)
	tmp, err := os.CreateTemp(dir, ".starpack-installdb-*.tmp")
	if err != nil {
		return errs.Wrap(err, "failed to create temp file")
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return errs.Wrap(err, "failed to write temp database")
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errs.Wrap(err, "failed to flush temp database")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errs.Wrap(err, "failed to sync temp database")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errs.Wrap(err, "failed to close temp database")
	}
	if err := os.Rename(tmpPath, db.path); err != nil {
		_ = os.Remove(tmpPath)
		return errs.Wrap(err, "failed to rename temp database into place")
	}
	return nil
}
