package store

import "time"

// Record mirrors the credential fields that survive a process restart.
type Record struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Repo persists the current access token between process restarts. It is a
// dumb key-value store: the token content is never validated here, and the
// server stays authoritative over whether a restored token is still accepted.
type Repo interface {
	Put(accessToken string, expiresAt time.Time) error
	// Get returns nil, nil when no record is present.
	Get() (*Record, error)
	Clear() error
}
