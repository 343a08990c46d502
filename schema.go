package bookden

import (
	"fmt"
	"strings"
)

// Reserved leading fields present in every table, in header order.
const (
	FieldID          = "id"
	FieldDateCreated = "date_created"
	FieldDateUpdated = "date_updated"
)

const numReservedFields = 3

// TimeLayout is the on-disk format of the reserved date fields.
const TimeLayout = "2006-01-02 15:04:05"

// Schema is the ordered field layout of one table file, parsed from its header
// line. Values are addressed by field name; positions are an internal detail.
type Schema struct {
	fields []string
	index  map[string]int
}

func parseSchema(header string) (*Schema, error) {
	header = strings.TrimRight(header, "\r\n")
	if header == "" {
		return nil, ErrSchema
	}
	fields := strings.Split(header, "\t")
	if len(fields) < numReservedFields {
		return nil, fmt.Errorf("%w: header has %d fields, want at least %d", ErrSchema, len(fields), numReservedFields)
	}
	if fields[0] != FieldID || fields[1] != FieldDateCreated || fields[2] != FieldDateUpdated {
		return nil, fmt.Errorf("%w: header must start with %s, %s, %s", ErrSchema, FieldID, FieldDateCreated, FieldDateUpdated)
	}
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("%w: empty field name at position %d", ErrSchema, i)
		}
		if _, dup := index[f]; dup {
			return nil, fmt.Errorf("%w: duplicate field name %q", ErrSchema, f)
		}
		index[f] = i
	}
	return &Schema{fields: fields, index: index}, nil
}

// Fields returns all field names in header order, reserved fields first.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// DataFields returns the table-specific field names, reserved fields excluded.
func (s *Schema) DataFields() []string {
	out := make([]string, len(s.fields)-numReservedFields)
	copy(out, s.fields[numReservedFields:])
	return out
}

// FieldIndex returns the position of the named field within a row.
func (s *Schema) FieldIndex(name string) (int, error) {
	i, ok := s.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return i, nil
}

func (s *Schema) header() string {
	return strings.Join(s.fields, "\t") + "\n"
}

func isReserved(name string) bool {
	return name == FieldID || name == FieldDateCreated || name == FieldDateUpdated
}
