package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/mailsmith/internal/email"
	"github.com/fyrsmithlabs/mailsmith/internal/persistence/migrations"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Fixed width so that timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteConfig configures SQLiteStore.
type SQLiteConfig struct {
	Path    string
	Timeout time.Duration
}

// SQLiteStore is a Gateway backed by SQLite.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

var _ Gateway = (*SQLiteStore)(nil)

// OpenSQLite opens the database at cfg.Path and applies pending migrations.
func OpenSQLite(cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.Path
	if path == "" {
		path = MemoryPath
	}
	if path != MemoryPath {
		if strings.HasPrefix(path, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("getting home directory: %w", err)
			}
			path = filepath.Join(home, path[1:])
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Each connection to :memory: is its own database.
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &SQLiteStore{db: db, path: path, timeout: timeout, logger: logger}
	if err := s.migrate(context.Background(), migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("draft store opened", zap.String("driver", "sqlite"), zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		s.logger.Debug("applied migration", zap.String("file", name))
	}
	return nil
}

func (s *SQLiteStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// Save implements Gateway.
func (s *SQLiteStore) Save(ctx context.Context, rec DraftRecord) (string, error) {
	if rec.Owner == "" {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	metaJSON, err := marshalMeta(rec.Metadata)
	if err != nil {
		return "", err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO drafts (owner_id, draft_id, content, tone, created_at, metadata_json)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Owner, rec.ID, rec.Content, string(rec.Tone),
			rec.CreatedAt.UTC().Format(timeLayout), metaJSON)
		return execErr
	})
	switch {
	case isConstraint(err):
		return "", fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
	case err != nil:
		return "", unavailable("saving draft", err)
	}
	return rec.ID, nil
}

// LoadProfile implements Gateway.
func (s *SQLiteStore) LoadProfile(ctx context.Context, owner string) (*email.Profile, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT profile_json FROM profiles WHERE owner_id = ?`, owner).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("loading profile", err)
	}
	var p email.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}
	p.Owner = owner
	return &p, nil
}

// SaveProfile implements Gateway.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p email.Profile) error {
	if p.Owner == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidRecord)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO profiles (owner_id, profile_json, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(owner_id) DO UPDATE SET
				profile_json = excluded.profile_json,
				updated_at = excluded.updated_at`,
			p.Owner, string(raw), time.Now().UTC().Format(timeLayout))
		return execErr
	})
	if err != nil {
		return unavailable("saving profile", err)
	}
	return nil
}

// ListDrafts implements Gateway.
func (s *SQLiteStore) ListDrafts(ctx context.Context, owner string, limit int) ([]DraftRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id, draft_id, content, tone, created_at, metadata_json
		FROM drafts WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, owner, normalizeLimit(limit))
	if err != nil {
		return nil, unavailable("listing drafts", err)
	}
	defer rows.Close()

	out := make([]DraftRecord, 0)
	for rows.Next() {
		var (
			rec               DraftRecord
			tone, ts, rawMeta string
		)
		if err := rows.Scan(&rec.Owner, &rec.ID, &rec.Content, &tone, &ts, &rawMeta); err != nil {
			return nil, fmt.Errorf("scanning draft: %w", err)
		}
		rec.Tone = email.Tone(tone)
		if rec.CreatedAt, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", ts, err)
		}
		if rec.Metadata, err = unmarshalMeta(rawMeta); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing drafts", err)
	}
	return out, nil
}

// AppendMetadata implements Gateway. The read and write share a transaction.
func (s *SQLiteStore) AppendMetadata(ctx context.Context, owner, draftID string, meta map[string]any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return unavailable("appending metadata", err)
		}
		defer func() { _ = tx.Rollback() }()

		var raw string
		err = tx.QueryRowContext(ctx,
			`SELECT metadata_json FROM drafts WHERE owner_id = ? AND draft_id = ?`,
			owner, draftID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
		}
		if err != nil {
			return unavailable("appending metadata", err)
		}

		merged, err := unmarshalMeta(raw)
		if err != nil {
			return err
		}
		if merged == nil {
			merged = make(map[string]any, len(meta))
		}
		for k, v := range meta {
			merged[k] = v
		}
		updated, err := marshalMeta(merged)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE drafts SET metadata_json = ? WHERE owner_id = ? AND draft_id = ?`,
			updated, owner, draftID); err != nil {
			return unavailable("appending metadata", err)
		}
		if err := tx.Commit(); err != nil {
			return unavailable("appending metadata", err)
		}
		return nil
	})
}

func marshalMeta(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(raw), nil
}

func unmarshalMeta(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return m, nil
}
