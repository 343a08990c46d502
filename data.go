package bookden

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Table files inside a data directory.
const (
	CatalogFile  = "catalog.db"
	RequestsFile = "catalog_requests.db"
	UsersFile    = "users.db"
)

// catalogLockFile guards the read-check-write sequences that span both catalog
// tables. Table-level locks only serialize single mutations.
const catalogLockFile = "catalog.lock"

// Option configures a Catalog or Directory.
type Option func(*options)

type options struct {
	log *zap.Logger
}

// WithLogger attaches a structured logger; mutations are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

func applyOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// InitDataDir creates the data directory and every table file with a valid
// header. Existing tables are left alone, so it is safe to run on a populated
// directory.
func InitDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bookden: create data dir %s: %w", dir, err)
	}
	tables := map[string][]string{
		CatalogFile:  {FieldBookName, FieldQtyTotal},
		RequestsFile: {FieldUserID, FieldBookID, FieldQtyRequested},
		UsersFile:    {FieldUsername, FieldPassword},
	}
	for file, fields := range tables {
		err := CreateTable(filepath.Join(dir, file), fields)
		if err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return nil
}
