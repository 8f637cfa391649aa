package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// persistedRecord is the on-disk layout. tokenExpiry is epoch milliseconds
// rendered as a string, matching the layout the browser client persisted.
type persistedRecord struct {
	AccessToken string `json:"accessToken"`
	TokenExpiry string `json:"tokenExpiry"`
}

// FileRepo is a file-backed implementation of Repo, used when the session
// should survive a process restart.
type FileRepo struct {
	mu   sync.Mutex
	path string
}

// NewFileRepo creates a token store persisting to the given file path
func NewFileRepo(path string) *FileRepo {
	return &FileRepo{path: path}
}

// Put writes the record to disk, replacing any previous one
func (r *FileRepo) Put(accessToken string, expiresAt time.Time) error {
	if accessToken == "" {
		return errors.New("[FileRepo.Put] accessToken is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(persistedRecord{
		AccessToken: accessToken,
		TokenExpiry: strconv.FormatInt(expiresAt.UnixMilli(), 10),
	})
	if err != nil {
		return errors.Wrap(err, "[FileRepo.Put] marshal record")
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return errors.Wrap(err, "[FileRepo.Put] create state folder")
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return errors.Wrap(err, "[FileRepo.Put] write record")
	}
	return nil
}

// Get reads the record from disk, nil when the file is absent
func (r *FileRepo) Get() (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[FileRepo.Get] read record")
	}

	var persisted persistedRecord
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, errors.Wrap(err, "[FileRepo.Get] unmarshal record")
	}
	if persisted.AccessToken == "" || persisted.TokenExpiry == "" {
		return nil, nil
	}

	millis, err := strconv.ParseInt(persisted.TokenExpiry, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "[FileRepo.Get] parse tokenExpiry")
	}

	return &Record{
		AccessToken: persisted.AccessToken,
		ExpiresAt:   time.UnixMilli(millis),
	}, nil
}

// Clear deletes the record file. Clearing an already-absent record is not an
// error.
func (r *FileRepo) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[FileRepo.Clear] remove record")
	}
	return nil
}
