package bookden

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Users table fields.
const (
	FieldUsername = "username"
	FieldPassword = "password"
)

// usersLockFile guards the exists-then-append sequence in Register.
const usersLockFile = "users.lock"

// Directory manages the account table and one connection's login state.
// Passwords are stored and compared as opaque bytes; any transport
// obfuscation is undone before they reach this layer.
//
// Login state only moves forward: a connection starts anonymous and becomes
// authenticated on a successful Login. There is no logout.
type Directory struct {
	users    *Table
	lockPath string
	log      *zap.Logger

	authenticated bool
	userID        int
}

// OpenDirectory opens the users table inside dataDir.
func OpenDirectory(dataDir string, opts ...Option) (*Directory, error) {
	o := applyOptions(opts)
	users, err := OpenTable(filepath.Join(dataDir, UsersFile))
	if err != nil {
		return nil, err
	}
	return &Directory{
		users:    users,
		lockPath: filepath.Join(dataDir, usersLockFile),
		log:      o.log,
	}, nil
}

// Register creates a new account. ErrValidation on an empty username or
// password, ErrConflict on a taken username.
func (d *Directory) Register(username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password must be set", ErrValidation)
	}

	lock, err := lockFile(d.lockPath)
	if err != nil {
		return err
	}
	defer lock.unlock()

	exists, err := d.Exists(username)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: username %q", ErrConflict, username)
	}
	_, err = d.users.AddRow(map[string]string{
		FieldUsername: username,
		FieldPassword: password,
	})
	if err != nil {
		return err
	}
	d.log.Debug("user registered", zap.String("username", username))
	return nil
}

// Exists reports whether a username is registered.
func (d *Directory) Exists(username string) (bool, error) {
	if username == "" {
		return false, nil
	}
	cur := d.users.Scan()
	_, ok, err := cur.NextWhere(FieldUsername, username)
	return ok, err
}

// Login checks credentials. ErrNotFound for an unknown username,
// ErrBadCredentials for a wrong password. On success the session becomes
// authenticated as the account's row id; on failure prior session state is
// untouched.
func (d *Directory) Login(username, password string) error {
	if username == "" {
		return fmt.Errorf("%w: empty username", ErrValidation)
	}
	cur := d.users.Scan()
	row, ok, err := cur.NextWhere(FieldUsername, username)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: username %q", ErrNotFound, username)
	}
	stored, err := row.Get(FieldPassword)
	if err != nil {
		return err
	}
	if stored != password {
		return fmt.Errorf("%w: username %q", ErrBadCredentials, username)
	}
	d.authenticated = true
	d.userID = row.ID
	d.log.Debug("login", zap.String("username", username), zap.Int("user_id", row.ID))
	return nil
}

// Authenticated reports whether a successful Login has happened.
func (d *Directory) Authenticated() bool { return d.authenticated }

// UserID returns the logged-in account's row id, 0 while anonymous.
func (d *Directory) UserID() int { return d.userID }
