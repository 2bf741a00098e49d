package session

import (
	"errors"
	"os"
)

// Delete removes the stored state and audit log of a session. Deleting a
// missing session is not an error.
func (s *Store) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	for _, p := range []string{s.sessionPath(id), s.lockPath(id), s.LogPath(id)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &StorageError{Op: "remove " + p, Err: err}
		}
	}
	return nil
}
