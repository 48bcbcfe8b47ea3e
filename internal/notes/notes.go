// Package notes holds the journal entry domain types and the contracts the
// drift scheduler consumes: Store, PreferenceProvider and Oracle.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("entry not found")
	ErrInvalidRate = errors.New(`change rate must be "low", "medium", or "high"`)
)

// Entry is a journal entry.
type Entry struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeRate is an owner's preference for how aggressively entries drift.
// The zero value is not a valid rate.
type ChangeRate string

const (
	RateLow    ChangeRate = "low"
	RateMedium ChangeRate = "medium"
	RateHigh   ChangeRate = "high"
)

// DefaultRate applies when an owner has no (valid) preference.
const DefaultRate = RateMedium

func (r ChangeRate) Valid() bool {
	switch r {
	case RateLow, RateMedium, RateHigh:
		return true
	}
	return false
}

func (r ChangeRate) String() string { return string(r) }

// ParseChangeRate accepts low, medium or high (case-insensitive).
func ParseChangeRate(s string) (ChangeRate, error) {
	r := ChangeRate(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: got %q", ErrInvalidRate, s)
	}
	return r, nil
}

// Store loads and persists entries.
type Store interface {
	// Get returns ErrNotFound (possibly wrapped) when the entry does not exist.
	Get(ctx context.Context, id string) (Entry, error)
	Update(ctx context.Context, id, title, content string) error
}

// PreferenceProvider resolves an owner's change rate. ok is false when the
// owner or the preference is absent.
type PreferenceProvider interface {
	ChangeRate(ctx context.Context, ownerID string) (rate ChangeRate, ok bool, err error)
}

// Oracle rewrites entry text.
//
// Implementations are fail-open: on any internal failure they return the
// original title and content instead of an error.
type Oracle interface {
	Mutate(ctx context.Context, title, content string, rate ChangeRate) (newTitle, newContent string)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, title, content string, rate ChangeRate) (string, string)

func (f OracleFunc) Mutate(ctx context.Context, title, content string, rate ChangeRate) (string, string) {
	return f(ctx, title, content, rate)
}
