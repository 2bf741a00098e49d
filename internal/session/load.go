package session

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
)

// Load reads the session with the given id. It returns ErrNotFound when no
// state exists yet, which callers treat as a fresh start.
func (s *Store) Load(id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	stateFile, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "read session " + id, Err: err}
	}

	// Unknown fields are ignored so that state written by newer plan versions
	// still loads.
	var sess Session
	if err := json.Unmarshal(stateFile, &sess); err != nil {
		return nil, &StorageError{Op: "decode session " + id, Err: err}
	}
	if sess.ID == "" {
		sess.ID = id
	}
	return &sess, nil
}

// List returns the ids of all stored sessions, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list sessions", Err: err}
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sessionFileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), sessionFileExt))
	}
	sort.Strings(ids)
	return ids, nil
}
