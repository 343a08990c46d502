package bookden

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Table is an append/update/scan engine over one tab-separated record file.
// Line 1 is the header (ordered field names); every following line is a row.
// Inserts append; updates and deletes rewrite the whole file and swap it in
// atomically, so a reader always sees a complete table.
//
// A Table carries no open file handle: every operation opens, works, and
// closes. Instances are cheap and per-caller; the file is the shared state.
type Table struct {
	path     string
	lockPath string
	schema   *Schema
}

// OpenTable opens an existing table file and parses its header.
// A missing file is ErrNotFound; a missing or malformed header is ErrSchema.
func OpenTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: table file %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("bookden: open table %s: %w", path, err)
	}
	defer f.Close()

	header, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && header == "" {
		return nil, fmt.Errorf("%w: table %s has no header line", ErrSchema, path)
	}
	schema, err := parseSchema(header)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", path, err)
	}
	return &Table{
		path: path,
		// Mutations serialize on a sidecar lock file rather than the table file:
		// the rewrite swap renames a fresh inode over the table path, which would
		// strand any waiter that locked the old inode.
		lockPath: path + ".lock",
		schema:   schema,
	}, nil
}

// CreateTable writes a new table file containing only a header with the
// reserved fields followed by dataFields. Fails with ErrConflict if the file
// already exists.
func CreateTable(path string, dataFields []string) error {
	if len(dataFields) == 0 {
		return fmt.Errorf("%w: table needs at least one data field", ErrValidation)
	}
	fields := append([]string{FieldID, FieldDateCreated, FieldDateUpdated}, dataFields...)
	header := strings.Join(fields, "\t") + "\n"
	if _, err := parseSchema(header); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: table file %s", ErrConflict, path)
		}
		return fmt.Errorf("bookden: create table %s: %w", path, err)
	}
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return fmt.Errorf("bookden: write header %s: %w", path, err)
	}
	return f.Close()
}

// Path returns the table file path.
func (t *Table) Path() string { return t.path }

// Schema returns the parsed field layout.
func (t *Table) Schema() *Schema { return t.schema }

// FieldIndex returns the position of the named field; ErrUnknownField if absent.
func (t *Table) FieldIndex(name string) (int, error) {
	return t.schema.FieldIndex(name)
}

// AddRow appends one row. Every data field must be supplied with a non-empty
// value; the format cannot represent an empty field. The new id is
// max(existing ids)+1, found by scanning the table; the scan and the append
// run under one exclusive lock so concurrent inserts cannot share an id.
// The O(rows) insert is an accepted cost of the format.
func (t *Table) AddRow(fields map[string]string) (int, error) {
	if err := t.checkFieldNames(fields); err != nil {
		return 0, err
	}
	for _, name := range t.schema.DataFields() {
		if fields[name] == "" {
			return 0, fmt.Errorf("%w: field %q must be set", ErrValidation, name)
		}
	}

	lock, err := lockFile(t.lockPath)
	if err != nil {
		return 0, err
	}
	defer lock.unlock()

	maxID, err := t.maxID()
	if err != nil {
		return 0, err
	}
	id := maxID + 1
	now := time.Now().Format(TimeLayout)

	cols := make([]string, len(t.schema.fields))
	cols[0] = strconv.Itoa(id)
	cols[1] = now
	cols[2] = now
	for name, v := range fields {
		i, _ := t.schema.FieldIndex(name)
		cols[i] = sanitizeValue(v)
	}

	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return 0, fmt.Errorf("bookden: append to %s: %w", t.path, err)
	}
	if _, err := f.WriteString(strings.Join(cols, "\t") + "\n"); err != nil {
		f.Close()
		return 0, fmt.Errorf("bookden: append to %s: %w", t.path, err)
	}
	return id, f.Close()
}

// UpdateRow rewrites the table, replacing the row with the given id. Fields
// present in fields overwrite; absent fields keep their old values;
// date_updated is refreshed. A nil fields map drops the row entirely (delete).
// ErrNotFound if no row has that id; the file is then untouched.
//
// The rewrite goes to a temporary file in the table's directory, which then
// replaces the original by rename, so a concurrent reader sees either the old
// or the new table, never a partial one.
func (t *Table) UpdateRow(id int, fields map[string]string) error {
	if id < 1 {
		return fmt.Errorf("%w: row id %d", ErrValidation, id)
	}
	if fields != nil {
		if err := t.checkFieldNames(fields); err != nil {
			return err
		}
		for name, v := range fields {
			if v == "" {
				return fmt.Errorf("%w: field %q must be set", ErrValidation, name)
			}
		}
	}

	lock, err := lockFile(t.lockPath)
	if err != nil {
		return err
	}
	defer lock.unlock()

	in, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("bookden: open %s: %w", t.path, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(t.path), filepath.Base(t.path)+".rewrite-*")
	if err != nil {
		return fmt.Errorf("bookden: create rewrite file: %w", err)
	}
	tmpPath := tmp.Name()
	discard := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		discard()
		return fmt.Errorf("%w: table %s has no header line", ErrSchema, t.path)
	}
	w := bufio.NewWriter(tmp)
	if _, err := w.WriteString(sc.Text() + "\n"); err != nil {
		discard()
		return fmt.Errorf("bookden: rewrite %s: %w", t.path, err)
	}

	found := false
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rowID, err := lineID(line)
		if err != nil {
			discard()
			return fmt.Errorf("table %s: %w", t.path, err)
		}
		var out string
		switch {
		case rowID != id:
			out = line
		case fields == nil:
			found = true
			continue // delete: emit nothing
		default:
			found = true
			merged, err := t.mergeRow(line, fields)
			if err != nil {
				discard()
				return err
			}
			out = merged
		}
		if _, err := w.WriteString(out + "\n"); err != nil {
			discard()
			return fmt.Errorf("bookden: rewrite %s: %w", t.path, err)
		}
	}
	if err := sc.Err(); err != nil {
		discard()
		return fmt.Errorf("bookden: read %s: %w", t.path, err)
	}
	if !found {
		discard()
		return fmt.Errorf("%w: row %d in %s", ErrNotFound, id, t.path)
	}

	if err := w.Flush(); err != nil {
		discard()
		return fmt.Errorf("bookden: rewrite %s: %w", t.path, err)
	}
	if err := tmp.Sync(); err != nil {
		discard()
		return fmt.Errorf("bookden: sync rewrite of %s: %w", t.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("bookden: close rewrite of %s: %w", t.path, err)
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("bookden: swap rewrite of %s: %w", t.path, err)
	}
	return nil
}

// DeleteRow removes the row with the given id via a rewrite that omits it.
func (t *Table) DeleteRow(id int) error {
	return t.UpdateRow(id, nil)
}

func (t *Table) mergeRow(line string, fields map[string]string) (string, error) {
	cols := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(cols) != len(t.schema.fields) {
		return "", fmt.Errorf("%w: row has %d fields, header has %d", ErrSchema, len(cols), len(t.schema.fields))
	}
	cols[2] = time.Now().Format(TimeLayout)
	for name, v := range fields {
		i, _ := t.schema.FieldIndex(name)
		cols[i] = sanitizeValue(v)
	}
	return strings.Join(cols, "\t"), nil
}

func (t *Table) checkFieldNames(fields map[string]string) error {
	for name := range fields {
		if isReserved(name) {
			return fmt.Errorf("%w: field %q is managed by the table", ErrValidation, name)
		}
		if _, err := t.schema.FieldIndex(name); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) maxID() (int, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return 0, fmt.Errorf("bookden: open %s: %w", t.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, fmt.Errorf("%w: table %s has no header line", ErrSchema, t.path)
	}
	max := 0
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		id, err := lineID(line)
		if err != nil {
			return 0, fmt.Errorf("table %s: %w", t.path, err)
		}
		if id > max {
			max = id
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("bookden: read %s: %w", t.path, err)
	}
	return max, nil
}

func lineID(line string) (int, error) {
	first := line
	if i := strings.IndexByte(line, '\t'); i >= 0 {
		first = line[:i]
	}
	id, err := strconv.Atoi(first)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: bad row id %q", ErrSchema, first)
	}
	return id, nil
}
