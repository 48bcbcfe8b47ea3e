package drift

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"driftnote/internal/clock"
	"driftnote/internal/eventbus"
	"driftnote/internal/notes"
)

type update struct {
	id, title, content string
}

type fakeStore struct {
	mu        sync.Mutex
	entries   map[string]notes.Entry
	gets      []string
	updates   []update
	getErr    error
	updateErr error
}

func newFakeStore(entries ...notes.Entry) *fakeStore {
	s := &fakeStore{entries: map[string]notes.Entry{}}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (notes.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets = append(s.gets, id)
	if s.getErr != nil {
		return notes.Entry{}, s.getErr
	}
	e, ok := s.entries[id]
	if !ok {
		return notes.Entry{}, notes.ErrNotFound
	}
	return e, nil
}

func (s *fakeStore) Update(_ context.Context, id, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.entries[id]; !ok {
		return notes.ErrNotFound
	}
	s.updates = append(s.updates, update{id: id, title: title, content: content})
	e := s.entries[id]
	e.Title, e.Content = title, content
	s.entries[id] = e
	return nil
}

func (s *fakeStore) delete(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

func (s *fakeStore) snapshot() (gets []string, updates []update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.gets...), append([]update(nil), s.updates...)
}

type fakePrefs struct {
	mu    sync.Mutex
	rates map[string]notes.ChangeRate
	calls []string
	err   error
}

func (p *fakePrefs) ChangeRate(_ context.Context, ownerID string) (notes.ChangeRate, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ownerID)
	if p.err != nil {
		return "", false, p.err
	}
	r, ok := p.rates[ownerID]
	return r, ok, nil
}

func (p *fakePrefs) set(ownerID string, r notes.ChangeRate) {
	p.mu.Lock()
	if p.rates == nil {
		p.rates = map[string]notes.ChangeRate{}
	}
	p.rates[ownerID] = r
	p.mu.Unlock()
}

type oracleCall struct {
	title, content string
	rate           notes.ChangeRate
}

// recordingOracle appends " (drifted)" to the content and records each call.
type recordingOracle struct {
	mu    sync.Mutex
	calls []oracleCall
	hook  func()
}

func (o *recordingOracle) Mutate(_ context.Context, title, content string, rate notes.ChangeRate) (string, string) {
	o.mu.Lock()
	o.calls = append(o.calls, oracleCall{title: title, content: content, rate: rate})
	hook := o.hook
	o.mu.Unlock()
	if hook != nil {
		hook()
	}
	return title, content + " (drifted)"
}

func (o *recordingOracle) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

type harness struct {
	s      *Scheduler
	clk    *clock.Fake
	store  *fakeStore
	prefs  *fakePrefs
	oracle *recordingOracle
	bus    eventbus.Bus
}

func newHarness(t *testing.T, cfg Config, entries ...notes.Entry) *harness {
	t.Helper()
	h := &harness{
		clk:    clock.NewFake(time.Time{}),
		store:  newFakeStore(entries...),
		prefs:  &fakePrefs{},
		oracle: &recordingOracle{},
		bus:    eventbus.New(),
	}
	s, err := New(cfg, Deps{
		Store:  h.store,
		Prefs:  h.prefs,
		Oracle: h.oracle,
		Clock:  h.clk,
		Bus:    h.bus,
	})
	require.NoError(t, err)
	h.s = s
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return h
}

func entry(id, owner string) notes.Entry {
	return notes.Entry{ID: id, OwnerID: owner, Title: "title " + id, Content: "content " + id}
}

var errBoom = errors.New("boom")
