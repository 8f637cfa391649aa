package store

import (
	"fmt"
	"sync"
	"time"
)

// InMemoryRepo is an in-memory implementation of Repo. It holds the record
// for the lifetime of the process, matching the per-tab storage area the
// browser original wrote to.
type InMemoryRepo struct {
	mu     sync.RWMutex
	record *Record
}

// NewInMemoryRepo creates a new in-memory token store
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

// Put stores the access token and its expiry, replacing any previous record
func (r *InMemoryRepo) Put(accessToken string, expiresAt time.Time) error {
	if accessToken == "" {
		return fmt.Errorf("accessToken is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.record = &Record{AccessToken: accessToken, ExpiresAt: expiresAt}
	return nil
}

// Get retrieves the stored record, nil when absent
func (r *InMemoryRepo) Get() (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.record == nil {
		return nil, nil
	}

	// Copy to avoid external modifications
	record := *r.record
	return &record, nil
}

// Clear removes the stored record
func (r *InMemoryRepo) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record = nil
	return nil
}
