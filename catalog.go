package bookden

import (
	"fmt"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// Catalog table fields.
const (
	FieldBookName = "book_name"
	FieldQtyTotal = "qty_total"
)

// Requests table fields.
const (
	FieldUserID       = "user_id"
	FieldBookID       = "book_id"
	FieldQtyRequested = "qty_requested"
)

// Catalog is the inventory-accounting layer: book totals in one table,
// per-user outstanding requests in another, and the arithmetic that reconciles
// them. A book's available quantity is its total minus the sum of every
// outstanding request against it; a valid run of operations never drives that
// negative.
//
// Mutations take an exclusive lock spanning the whole read-check-write
// sequence, so two workers adjusting the same book cannot interleave between
// the availability check and the write.
type Catalog struct {
	books    *Table
	requests *Table
	lockPath string
	log      *zap.Logger
}

// OpenCatalog opens the catalog and requests tables inside dataDir.
func OpenCatalog(dataDir string, opts ...Option) (*Catalog, error) {
	o := applyOptions(opts)
	books, err := OpenTable(filepath.Join(dataDir, CatalogFile))
	if err != nil {
		return nil, err
	}
	requests, err := OpenTable(filepath.Join(dataDir, RequestsFile))
	if err != nil {
		return nil, err
	}
	return &Catalog{
		books:    books,
		requests: requests,
		lockPath: filepath.Join(dataDir, catalogLockFile),
		log:      o.log,
	}, nil
}

// AddBook registers qty copies of a book. A new name gets a fresh catalog
// entry; an existing one has its total raised. Stock only ever enters through
// here; it never leaves, requests just hold it.
func (c *Catalog) AddBook(name string, qty int) error {
	if name == "" {
		return fmt.Errorf("%w: empty book name", ErrValidation)
	}
	if qty < 0 {
		return fmt.Errorf("%w: negative quantity %d", ErrValidation, qty)
	}

	lock, err := lockFile(c.lockPath)
	if err != nil {
		return err
	}
	defer lock.unlock()

	row, ok, err := c.bookRow(name)
	if err != nil {
		return err
	}
	if !ok {
		_, err = c.books.AddRow(map[string]string{
			FieldBookName: name,
			FieldQtyTotal: strconv.Itoa(qty),
		})
		if err != nil {
			return err
		}
		c.log.Debug("book added", zap.String("book", name), zap.Int("qty", qty))
		return nil
	}

	total, err := row.Int(FieldQtyTotal)
	if err != nil {
		return err
	}
	if err := c.books.UpdateRow(row.ID, map[string]string{
		FieldQtyTotal: strconv.Itoa(total + qty),
	}); err != nil {
		return err
	}
	c.log.Debug("book stock raised",
		zap.String("book", name), zap.Int("qty", qty), zap.Int("total", total+qty))
	return nil
}

// AvailableQty returns how many copies of a book can still be requested:
// its total minus every user's outstanding requests. 0 for an unknown book.
// Never mutates state.
func (c *Catalog) AvailableQty(name string) (int, error) {
	row, ok, err := c.bookRow(name)
	if err != nil || !ok {
		return 0, err
	}
	return c.availableForRow(row)
}

func (c *Catalog) availableForRow(book *Row) (int, error) {
	avail, err := book.Int(FieldQtyTotal)
	if err != nil {
		return 0, err
	}
	bookID := strconv.Itoa(book.ID)
	cur := c.requests.Scan()
	for {
		req, ok, err := cur.NextWhere(FieldBookID, bookID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return avail, nil
		}
		qty, err := req.Int(FieldQtyRequested)
		if err != nil {
			return 0, err
		}
		avail -= qty
	}
}

// BookID returns the catalog id for a book name, 0 if absent.
func (c *Catalog) BookID(name string) (int, error) {
	row, ok, err := c.bookRow(name)
	if err != nil || !ok {
		return 0, err
	}
	return row.ID, nil
}

// BookExists reports whether a book name is in the catalog.
func (c *Catalog) BookExists(name string) (bool, error) {
	_, ok, err := c.bookRow(name)
	return ok, err
}

// RequestBook places or raises a user's hold on qty copies of a book.
func (c *Catalog) RequestBook(name string, userID, qty int) error {
	return c.adjust(name, userID, qty)
}

// ReturnBook hands qty copies back, lowering the user's outstanding amount.
// The request row disappears once nothing is outstanding.
func (c *Catalog) ReturnBook(name string, userID, qty int) error {
	return c.adjust(name, userID, -qty)
}

// adjust is the shared request/return path; delta is positive for a request
// and negative for a return.
//
// The admission check compares the raw delta against current availability, not
// the user's new cumulative outstanding amount. A positive delta that passes
// it can still push the cumulative amount past availability, in which case the
// write is skipped and the call succeeds without effect. Clients have always
// seen both behaviors, so both stay.
func (c *Catalog) adjust(name string, userID, delta int) error {
	if name == "" {
		return fmt.Errorf("%w: empty book name", ErrValidation)
	}
	if userID < 1 {
		return fmt.Errorf("%w: user id %d", ErrValidation, userID)
	}

	lock, err := lockFile(c.lockPath)
	if err != nil {
		return err
	}
	defer lock.unlock()

	book, ok, err := c.bookRow(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: book %q", ErrNotFound, name)
	}
	avail, err := c.availableForRow(book)
	if err != nil {
		return err
	}
	if delta > avail {
		return fmt.Errorf("%w: requested %d of %q, %d available", ErrCapacity, delta, name, avail)
	}

	reqID, existing, err := c.outstanding(userID, book.ID)
	if err != nil {
		return err
	}
	outstanding := existing + delta
	if outstanding < 0 {
		return fmt.Errorf("%w: returning %d of %q, only %d outstanding", ErrCapacity, -delta, name, existing)
	}

	if outstanding <= avail {
		switch {
		case reqID == 0 && outstanding > 0:
			_, err = c.requests.AddRow(map[string]string{
				FieldUserID:       strconv.Itoa(userID),
				FieldBookID:       strconv.Itoa(book.ID),
				FieldQtyRequested: strconv.Itoa(outstanding),
			})
		case reqID != 0 && outstanding <= 0:
			err = c.requests.DeleteRow(reqID)
		case reqID != 0:
			err = c.requests.UpdateRow(reqID, map[string]string{
				FieldQtyRequested: strconv.Itoa(outstanding),
			})
		}
		if err != nil {
			return err
		}
	}
	c.log.Debug("request adjusted",
		zap.String("book", name), zap.Int("user", userID),
		zap.Int("delta", delta), zap.Int("outstanding", outstanding))
	return nil
}

// outstanding finds the user's request row for a book: its row id and quantity,
// or (0, 0) when the user holds nothing.
func (c *Catalog) outstanding(userID, bookID int) (int, int, error) {
	uid := strconv.Itoa(userID)
	bid := strconv.Itoa(bookID)
	cur := c.requests.Scan()
	for {
		req, ok, err := cur.NextWhere(FieldUserID, uid)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			return 0, 0, nil
		}
		b, err := req.Get(FieldBookID)
		if err != nil {
			return 0, 0, err
		}
		if b != bid {
			continue
		}
		qty, err := req.Int(FieldQtyRequested)
		if err != nil {
			return 0, 0, err
		}
		return req.ID, qty, nil
	}
}

// bookRow finds a catalog entry by name. Absent books are (nil, false, nil);
// an empty name is simply absent, matching the 0/false contract of BookID and
// BookExists.
func (c *Catalog) bookRow(name string) (*Row, bool, error) {
	if name == "" {
		return nil, false, nil
	}
	cur := c.books.Scan()
	return cur.NextWhere(FieldBookName, name)
}
