package bookden

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock holds an exclusive advisory flock on a file. It serializes mutating
// table operations across goroutines and across processes sharing the data
// directory.
type fileLock struct {
	f *os.File
}

// lockFile takes an exclusive lock on path, blocking until it is granted.
// The file is created if missing so sidecar lock files need no setup.
func lockFile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("bookden: open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("bookden: lock %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) unlock() {
	// Closing the descriptor drops the flock even if the explicit unlock fails.
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
}
