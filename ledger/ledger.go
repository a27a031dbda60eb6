// Package ledger persists entitlement snapshots and the revocation log in a
// local SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yllada/vpn-licensing/catalog"
	"github.com/yllada/vpn-licensing/entitlement"
)

// Record is one stored revocation.
type Record struct {
	ID          string
	ReviewedAt  time.Time
	ProfileID   string
	ProfileName string
	Kind        entitlement.RevocationKind
	Product     catalog.ProductID
}

// Ledger is a SQLite-backed entitlement.History.
type Ledger struct {
	db *sql.DB
}

var _ entitlement.History = (*Ledger)(nil)

// Open opens or creates the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	cleaned := filepath.Clean(strings.TrimSpace(path))
	if cleaned == "" || cleaned == "." {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cleaned), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	l := &Ledger{db: db}
	if err := l.configure(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := l.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) configure(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite pragma failed: %w", err)
		}
	}
	return l.db.PingContext(ctx)
}

func (l *Ledger) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			kind TEXT PRIMARY KEY,
			taken_at TIMESTAMP NOT NULL,
			data TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS revocations (
			id TEXT PRIMARY KEY,
			reviewed_at TIMESTAMP NOT NULL,
			profile_id TEXT NOT NULL,
			profile_name TEXT NOT NULL,
			kind TEXT NOT NULL,
			product TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_revocations_reviewed_at ON revocations(reviewed_at);`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger schema migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// SaveSnapshot replaces the snapshot stored under kind.
func (l *Ledger) SaveSnapshot(ctx context.Context, kind entitlement.SnapshotKind, snap *entitlement.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot for %s", kind)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode %s snapshot: %w", kind, err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO snapshots (kind, taken_at, data) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET taken_at = excluded.taken_at, data = excluded.data`,
		string(kind), time.Now().UTC(), string(data))
	if err != nil {
		return fmt.Errorf("failed to save %s snapshot: %w", kind, err)
	}
	return nil
}

// LoadSnapshot returns the snapshot stored under kind, or nil if none was saved.
func (l *Ledger) LoadSnapshot(ctx context.Context, kind entitlement.SnapshotKind) (*entitlement.Snapshot, error) {
	var data string
	err := l.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE kind = ?`, string(kind)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s snapshot: %w", kind, err)
	}
	snap := entitlement.EmptySnapshot()
	if err := json.Unmarshal([]byte(data), snap); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", kind, err)
	}
	return snap, nil
}

// RecordRevocations appends revs in a single transaction.
func (l *Ledger) RecordRevocations(ctx context.Context, reviewedAt time.Time, revs []entitlement.Revocation) error {
	if len(revs) == 0 {
		return nil
	}
	return l.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO revocations (id, reviewed_at, profile_id, profile_name, kind, product)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range revs {
			if _, err := stmt.ExecContext(ctx, uuid.NewString(), reviewedAt.UTC(),
				r.ProfileID, r.ProfileName, string(r.Kind), string(r.Product)); err != nil {
				return fmt.Errorf("failed to record revocation of %s: %w", r.ProfileID, err)
			}
		}
		return nil
	})
}

// Revocations returns the most recent revocations, newest first. A limit of
// zero or less returns all of them.
func (l *Ledger) Revocations(ctx context.Context, limit int) ([]Record, error) {
	query := `SELECT id, reviewed_at, profile_id, profile_name, kind, product
		FROM revocations ORDER BY reviewed_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list revocations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r             Record
			kind, product string
		)
		if err := rows.Scan(&r.ID, &r.ReviewedAt, &r.ProfileID, &r.ProfileName, &kind, &product); err != nil {
			return nil, err
		}
		r.Kind = entitlement.RevocationKind(kind)
		r.Product = catalog.ProductID(product)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *Ledger) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
