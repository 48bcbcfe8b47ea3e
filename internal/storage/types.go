package storage

import (
	"context"
	"errors"
	"time"

	"driftnote/internal/notes"
)

var (
	ErrClosed       = errors.New("storage closed")
	ErrInvalidEntry = errors.New("title and content are required")
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the daemon and the CLI.
type Store interface {
	notes.Store
	notes.PreferenceProvider

	// Create inserts e. An empty ID is assigned; timestamps are set by the store.
	Create(ctx context.Context, e notes.Entry) (notes.Entry, error)
	// Delete removes an entry. Missing entries yield notes.ErrNotFound.
	Delete(ctx context.Context, id string) error
	// List returns entries newest first. An empty ownerID lists every owner.
	List(ctx context.Context, ownerID string) ([]notes.Entry, error)
	// SetChangeRate stores an owner preference; only valid rates are accepted.
	SetChangeRate(ctx context.Context, ownerID string, rate notes.ChangeRate) error

	Close() error
}

func validateEntry(e notes.Entry) error {
	if e.Title == "" || e.Content == "" {
		return ErrInvalidEntry
	}
	return nil
}
