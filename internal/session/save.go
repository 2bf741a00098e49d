package session

import (
	"encoding/json"
	"os"
	"time"

	"github.com/juju/utils/v4"
)

// Save atomically replaces the stored state of sess. A crash during the write
// leaves the previous state intact.
func (s *Store) Save(sess *Session) error {
	if err := ValidateID(sess.ID); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return &StorageError{Op: "create state directory", Err: err}
	}

	sess.UpdatedAt = time.Now().UTC()
	stateFile, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode session " + sess.ID, Err: err}
	}

	if err := utils.AtomicWriteFile(s.sessionPath(sess.ID), stateFile, 0600); err != nil {
		return &StorageError{Op: "write session " + sess.ID, Err: err}
	}
	return nil
}
