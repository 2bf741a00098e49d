package session

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrLocked   = errors.New("session is in use by another process")

	sessionIdRegex = regexp.MustCompile(`^[A-Za-z0-9][-_.A-Za-z0-9]*$`)
)

// StorageError wraps an I/O failure of the store. Progress can't be
// checkpointed once one occurs, so callers treat it as fatal.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session store: failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store keeps one JSON document per session id in a directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultStore returns a store under the user's home directory.
func DefaultStore() (*Store, error) {
	dirname, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	return NewStore(path.Join(dirname, stateFileDirectory, sessionsDirectory)), nil
}

func (s *Store) Dir() string {
	return s.dir
}

func ValidateID(id string) error {
	if !sessionIdRegex.MatchString(id) {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

func (s *Store) sessionPath(id string) string {
	return path.Join(s.dir, id+sessionFileExt)
}

func (s *Store) lockPath(id string) string {
	return path.Join(s.dir, id+lockFileExt)
}

// LogPath is where the audit log of a session lives, next to its state.
func (s *Store) LogPath(id string) string {
	return path.Join(s.dir, id+".log")
}
