package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"driftnote/internal/notes"
)

// state is the in-memory model shared by the memory and file backends.
// It is not safe for concurrent use on its own.
type state struct {
	entries map[string]notes.Entry
	rates   map[string]notes.ChangeRate
	now     func() time.Time
}

func newState() *state {
	return &state{
		entries: map[string]notes.Entry{},
		rates:   map[string]notes.ChangeRate{},
		now:     time.Now,
	}
}

func (s *state) get(id string) (notes.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return notes.Entry{}, fmt.Errorf("%w: %s", notes.ErrNotFound, id)
	}
	return e, nil
}

func (s *state) create(e notes.Entry) (notes.Entry, error) {
	if err := validateEntry(e); err != nil {
		return notes.Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, dup := s.entries[e.ID]; dup {
		return notes.Entry{}, fmt.Errorf("entry %s already exists", e.ID)
	}
	now := s.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	s.entries[e.ID] = e
	return e, nil
}

func (s *state) update(id, title, content string) (notes.Entry, error) {
	e, err := s.get(id)
	if err != nil {
		return notes.Entry{}, err
	}
	e.Title, e.Content = title, content
	e.UpdatedAt = s.now().UTC()
	s.entries[id] = e
	return e, nil
}

func (s *state) delete(id string) error {
	if _, err := s.get(id); err != nil {
		return err
	}
	delete(s.entries, id)
	return nil
}

func (s *state) list(ownerID string) []notes.Entry {
	out := make([]notes.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if ownerID == "" || e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	sortNewestFirst(out)
	return out
}

func (s *state) setRate(ownerID string, rate notes.ChangeRate) error {
	if !rate.Valid() {
		return fmt.Errorf("%w: got %q", notes.ErrInvalidRate, string(rate))
	}
	s.rates[ownerID] = rate
	return nil
}

func sortNewestFirst(es []notes.Entry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.After(es[j].CreatedAt)
		}
		return es[i].ID < es[j].ID
	})
}

type memoryStore struct {
	mu     sync.RWMutex
	st     *state
	closed bool
}

// NewMemory returns an empty process-local store.
func NewMemory() Store {
	return &memoryStore{st: newState()}
}

func (m *memoryStore) Get(_ context.Context, id string) (notes.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return notes.Entry{}, ErrClosed
	}
	return m.st.get(id)
}

func (m *memoryStore) Update(_ context.Context, id, title, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	_, err := m.st.update(id, title, content)
	return err
}

func (m *memoryStore) Create(_ context.Context, e notes.Entry) (notes.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return notes.Entry{}, ErrClosed
	}
	return m.st.create(e)
}

func (m *memoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.st.delete(id)
}

func (m *memoryStore) List(_ context.Context, ownerID string) ([]notes.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.st.list(ownerID), nil
}

func (m *memoryStore) ChangeRate(_ context.Context, ownerID string) (notes.ChangeRate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	r, ok := m.st.rates[ownerID]
	return r, ok, nil
}

func (m *memoryStore) SetChangeRate(_ context.Context, ownerID string, rate notes.ChangeRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return m.st.setRate(ownerID, rate)
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
