package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"driftnote/internal/notes"
	logx "driftnote/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const entryColumns = `id, owner_id, title, content, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (notes.Entry, error) {
	var (
		e                notes.Entry
		created, updated int64
	)
	if err := r.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Content, &created, &updated); err != nil {
		return notes.Entry{}, err
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return e, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (notes.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notes.Entry{}, fmt.Errorf("%w: %s", notes.ErrNotFound, id)
	}
	return e, err
}

func (s *sqliteStore) Update(ctx context.Context, id, title, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET title = ?, content = ?, updated_at = ? WHERE id = ?`,
		title, content, s.now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	return affected(res, id)
}

func (s *sqliteStore) Create(ctx context.Context, e notes.Entry) (notes.Entry, error) {
	if err := validateEntry(e); err != nil {
		return notes.Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	// Millisecond precision, same as what a later Get returns.
	now := time.UnixMilli(s.now().UnixMilli()).UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(`+entryColumns+`) VALUES(?,?,?,?,?,?)`,
		e.ID, e.OwnerID, e.Title, e.Content, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return notes.Entry{}, err
	}
	return e, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affected(res, id)
}

func (s *sqliteStore) List(ctx context.Context, ownerID string) ([]notes.Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM entries`
	args := []any{}
	if ownerID != "" {
		q += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	q += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []notes.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ChangeRate(ctx context.Context, ownerID string) (notes.ChangeRate, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT change_rate FROM preferences WHERE owner_id = ?`, ownerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return notes.ChangeRate(raw), true, nil
}

func (s *sqliteStore) SetChangeRate(ctx context.Context, ownerID string, rate notes.ChangeRate) error {
	if !rate.Valid() {
		return fmt.Errorf("%w: got %q", notes.ErrInvalidRate, string(rate))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences(owner_id, change_rate) VALUES(?,?)
		 ON CONFLICT(owner_id) DO UPDATE SET change_rate=excluded.change_rate`,
		ownerID, string(rate),
	)
	return err
}

func affected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notes.ErrNotFound, id)
	}
	return nil
}
