package bookden

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Cursor steps through a table's rows in ascending-id file order. Its position
// is the id of the last row returned, so each call yields the first row whose
// id is above it. Cursors are caller-owned values: any number may be open on
// the same table at once without disturbing each other.
//
// Each step re-reads the file from the top, so a row inserted or rewritten
// behind the position is simply never revisited.
type Cursor struct {
	table  *Table
	lastID int
}

// Scan returns a fresh cursor positioned before the first row.
func (t *Table) Scan() *Cursor {
	return &Cursor{table: t}
}

// Next returns the next row, or ok=false at end of table.
func (c *Cursor) Next() (*Row, bool, error) {
	return c.step("", "")
}

// NextWhere is Next restricted to rows whose named field equals value.
func (c *Cursor) NextWhere(field, value string) (*Row, bool, error) {
	if field == "" || value == "" {
		return nil, false, fmt.Errorf("%w: scan filter needs a field and a value", ErrValidation)
	}
	if _, err := c.table.schema.FieldIndex(field); err != nil {
		return nil, false, err
	}
	return c.step(field, value)
}

func (c *Cursor) step(field, value string) (*Row, bool, error) {
	f, err := os.Open(c.table.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, fmt.Errorf("%w: table file %s", ErrNotFound, c.table.path)
		}
		return nil, false, fmt.Errorf("bookden: open %s: %w", c.table.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, false, fmt.Errorf("%w: table %s has no header line", ErrSchema, c.table.path)
	}
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, err := parseRow(c.table.schema, line)
		if err != nil {
			return nil, false, fmt.Errorf("table %s: %w", c.table.path, err)
		}
		if row.ID <= c.lastID {
			continue
		}
		if field != "" {
			v, err := row.Get(field)
			if err != nil {
				return nil, false, err
			}
			if v != value {
				continue
			}
		}
		c.lastID = row.ID
		return row, true, nil
	}
	if err := sc.Err(); err != nil {
		return nil, false, fmt.Errorf("bookden: read %s: %w", c.table.path, err)
	}
	return nil, false, nil
}
