package bookden

import (
	"fmt"
	"io"
	"strings"
)

// WriteInventoryReport renders the full inventory table to w: every book with
// its total, the copies currently held by requests, and the remainder.
func (c *Catalog) WriteInventoryReport(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%-20s%20s%20s%20s\n", "BOOK NAME", "TOTAL ON HAND", "IN USE", "AVAILABLE"); err != nil {
		return fmt.Errorf("bookden: write report: %w", err)
	}
	cur := c.books.Scan()
	for {
		row, ok, err := cur.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		name, total, avail, err := c.reportLine(row)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%-20s%20d%20d%20d\n", name, total, total-avail, avail); err != nil {
			return fmt.Errorf("bookden: write report: %w", err)
		}
	}
}

// AvailabilityReport renders the shorter total/available table as a string.
func (c *Catalog) AvailabilityReport() (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s%20s%20s\n", "BOOK NAME", "TOTAL ON HAND", "AVAILABLE")
	cur := c.books.Scan()
	for {
		row, ok, err := cur.Next()
		if err != nil {
			return "", err
		}
		if !ok {
			return b.String(), nil
		}
		name, total, avail, err := c.reportLine(row)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%-20s%20d%20d\n", name, total, avail)
	}
}

func (c *Catalog) reportLine(book *Row) (name string, total, avail int, err error) {
	name, err = book.Get(FieldBookName)
	if err != nil {
		return "", 0, 0, err
	}
	total, err = book.Int(FieldQtyTotal)
	if err != nil {
		return "", 0, 0, err
	}
	avail, err = c.availableForRow(book)
	if err != nil {
		return "", 0, 0, err
	}
	return name, total, avail, nil
}
