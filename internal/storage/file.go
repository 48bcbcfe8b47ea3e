package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"driftnote/internal/notes"
	logx "driftnote/pkg/logx"
)

const fileCompactEvery = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (entries + rates, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only journal since the last snapshot)
//
// Reads are served from memory; every write appends one journal record.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st *state

	snapshotPath string
	journal      *os.File
	writes       int
}

type journalOp string

const (
	opPut    journalOp = "put"
	opDelete journalOp = "del"
	opRate   journalOp = "rate"
)

type journalRecord struct {
	Op    journalOp        `json:"op"`
	Entry *notes.Entry     `json:"entry,omitempty"`
	ID    string           `json:"id,omitempty"`
	Owner string           `json:"owner,omitempty"`
	Rate  notes.ChangeRate `json:"rate,omitempty"`
}

type fileSnapshot struct {
	Entries []notes.Entry               `json:"entries"`
	Rates   map[string]notes.ChangeRate `json:"rates"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := newState()
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	replayed, err := replayJournal(journalPath, st)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened",
		logx.String("path", prefix),
		logx.Int("entries", len(st.entries)),
		logx.Int("replayed", replayed),
	)
	return &fileStore{
		log:          log,
		st:           st,
		snapshotPath: snapPath,
		journal:      jf,
		writes:       replayed,
	}, nil
}

func (s *fileStore) Get(_ context.Context, id string) (notes.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return notes.Entry{}, ErrClosed
	}
	return s.st.get(id)
}

func (s *fileStore) List(_ context.Context, ownerID string) ([]notes.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return s.st.list(ownerID), nil
}

func (s *fileStore) ChangeRate(_ context.Context, ownerID string) (notes.ChangeRate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return "", false, ErrClosed
	}
	r, ok := s.st.rates[ownerID]
	return r, ok, nil
}

func (s *fileStore) Create(_ context.Context, e notes.Entry) (notes.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return notes.Entry{}, ErrClosed
	}
	created, err := s.st.create(e)
	if err != nil {
		return notes.Entry{}, err
	}
	if err := s.appendLocked(journalRecord{Op: opPut, Entry: &created}); err != nil {
		delete(s.st.entries, created.ID)
		return notes.Entry{}, err
	}
	return created, nil
}

func (s *fileStore) Update(_ context.Context, id, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	prev, err := s.st.get(id)
	if err != nil {
		return err
	}
	updated, err := s.st.update(id, title, content)
	if err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{Op: opPut, Entry: &updated}); err != nil {
		s.st.entries[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	prev, err := s.st.get(id)
	if err != nil {
		return err
	}
	_ = s.st.delete(id)
	if err := s.appendLocked(journalRecord{Op: opDelete, ID: id}); err != nil {
		s.st.entries[id] = prev
		return err
	}
	return nil
}

func (s *fileStore) SetChangeRate(_ context.Context, ownerID string, rate notes.ChangeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	prev, had := s.st.rates[ownerID]
	if err := s.st.setRate(ownerID, rate); err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{Op: opRate, Owner: ownerID, Rate: rate}); err != nil {
		if had {
			s.st.rates[ownerID] = prev
		} else {
			delete(s.st.rates, ownerID)
		}
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	if cerr != nil {
		s.log.Warn("final compact failed", logx.Err(cerr))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := fileSnapshot{Entries: s.st.list(""), Rates: s.st.rates}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap fileSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, e := range snap.Entries {
		st.entries[e.ID] = e
	}
	for k, v := range snap.Rates {
		st.rates[k] = v
	}
	return nil
}

// replayJournal applies journal records on top of st. Lines have no length
// limit; corrupt ones (e.g. a torn final write) are skipped.
func replayJournal(path string, st *state) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	rd := bufio.NewReader(f)
	n := 0
	for {
		line, rerr := rd.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 && applyRecord(st, line) {
			n++
		}
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

// applyRecord applies one journal line; it reports false for lines it skipped.
func applyRecord(st *state, line []byte) bool {
	var r journalRecord
	if err := json.Unmarshal(line, &r); err != nil {
		return false
	}
	switch r.Op {
	case opPut:
		if r.Entry != nil && r.Entry.ID != "" {
			st.entries[r.Entry.ID] = *r.Entry
		}
	case opDelete:
		delete(st.entries, r.ID)
	case opRate:
		if r.Rate.Valid() {
			st.rates[r.Owner] = r.Rate
		}
	default:
		return false
	}
	return true
}
