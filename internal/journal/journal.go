// Package journal keeps a local log of the requests this operator sent to the
// backend. Bookings themselves are never stored here.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Action kinds.
const (
	KindStatus   = "status"
	KindIncident = "incident"
)

// Entry is one recorded request.
type Entry struct {
	ID          int64
	Kind        string
	Actor       string // staff email
	StoreID     int64
	BookingID   string
	BookingCode string
	FromStatus  string
	ToStatus    string
	Detail      string
	Error       string // empty when the backend accepted the request
	CreatedAt   time.Time
}

// OK reports whether the backend accepted the request.
func (e Entry) OK() bool {
	return e.Error == ""
}

// DB wraps sql.DB for the action journal.
type DB struct {
	*sql.DB
}

// NewDB opens the journal at path and runs migrations.
func NewDB(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// sqlite serialises writers anyway; one connection keeps :memory: coherent.
	db.SetMaxOpenConns(1)
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			actor TEXT NOT NULL,
			store_id INTEGER NOT NULL DEFAULT 0,
			booking_id TEXT NOT NULL,
			booking_code TEXT,
			from_status TEXT,
			to_status TEXT,
			detail TEXT,
			error TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_actor ON actions(actor, created_at)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// Record stores e. CreatedAt defaults to now.
func (db *DB) Record(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO actions (kind, actor, store_id, booking_id, booking_code, from_status, to_status, detail, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Actor, e.StoreID, e.BookingID, e.BookingCode, e.FromStatus, e.ToStatus, e.Detail, e.Error, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record action: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// Recent returns the latest entries for actor, newest first.
func (db *DB) Recent(ctx context.Context, actor string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, actor, store_id, booking_id, booking_code, from_status, to_status, detail, error, created_at
		FROM actions
		WHERE actor = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var code, from, to, detail, errText sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.Actor, &e.StoreID, &e.BookingID, &code, &from, &to, &detail, &errText, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.BookingCode = code.String
		e.FromStatus = from.String
		e.ToStatus = to.String
		e.Detail = detail.String
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}
