package session

import (
	"os"

	"github.com/gofrs/flock"
)

// Lock takes an advisory, non-blocking lock on a session so that a second
// process can't run the same session concurrently. The returned function
// releases it.
func (s *Store) Lock(id string) (func() error, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, &StorageError{Op: "create state directory", Err: err}
	}

	lock := flock.New(s.lockPath(id))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, &StorageError{Op: "lock session " + id, Err: err}
	}
	if !locked {
		return nil, ErrLocked
	}
	return lock.Unlock, nil
}
