package bookden

import "errors"

// ErrNotFound is returned when a requested item (book, user, table row, or table
// file) does not exist.
var ErrNotFound = errors.New("bookden: requested record not found")

// Additional package-level errors
var (
	// ErrSchema indicates a table file whose header line is missing or malformed,
	// or a data line that does not match the header.
	ErrSchema       = errors.New("bookden: table schema missing or malformed")
	ErrUnknownField = errors.New("bookden: unknown field name")
	ErrValidation   = errors.New("bookden: invalid input")
	// ErrConflict indicates an attempt to create a record whose unique key is taken.
	ErrConflict = errors.New("bookden: record already exists")
	// ErrCapacity indicates a quantity change the current stock cannot absorb:
	// a request above availability, or a return above the user's outstanding amount.
	ErrCapacity       = errors.New("bookden: quantity exceeds capacity")
	ErrBadCredentials = errors.New("bookden: password does not match")
)
