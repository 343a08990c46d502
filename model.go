package bookden

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one record read from a table. The reserved fields are parsed into
// typed values; everything else is addressed by field name via Get/Int.
type Row struct {
	ID      int       // Primary key, assigned on append as max(id)+1
	Created time.Time // Timestamp for creation
	Updated time.Time // Timestamp for last update

	values map[string]string
}

// Get returns the raw value of the named field.
func (r *Row) Get(name string) (string, error) {
	v, ok := r.values[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return v, nil
}

// Int returns the named field parsed as an integer.
func (r *Row) Int(name string) (int, error) {
	v, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: field %q holds %q, not an integer", ErrValidation, name, v)
	}
	return n, nil
}

func parseRow(s *Schema, line string) (*Row, error) {
	line = strings.TrimRight(line, "\r\n")
	cols := strings.Split(line, "\t")
	if len(cols) != len(s.fields) {
		return nil, fmt.Errorf("%w: row has %d fields, header has %d", ErrSchema, len(cols), len(s.fields))
	}
	id, err := strconv.Atoi(cols[0])
	if err != nil || id < 1 {
		return nil, fmt.Errorf("%w: bad row id %q", ErrSchema, cols[0])
	}
	created, err := time.Parse(TimeLayout, cols[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s value %q", ErrSchema, FieldDateCreated, cols[1])
	}
	updated, err := time.Parse(TimeLayout, cols[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s value %q", ErrSchema, FieldDateUpdated, cols[2])
	}
	values := make(map[string]string, len(cols))
	for i, name := range s.fields {
		values[name] = cols[i]
	}
	return &Row{ID: id, Created: created, Updated: updated, values: values}, nil
}

// sanitizeValue replaces the characters the record format reserves. Tabs would
// shift every following field; newlines would split the row.
func sanitizeValue(v string) string {
	v = strings.ReplaceAll(v, "\t", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(v, "\r", " ")
}
