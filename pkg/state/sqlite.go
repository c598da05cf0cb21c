package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps one row per task and one row per source sync time.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	snap := empty()

	rows, err := s.db.QueryContext(ctx, "SELECT body FROM tasks ORDER BY position")
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return Snapshot{}, err
		}
		var t model.Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode task row: %w", err)
		}
		snap.Tasks = append(snap.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	syncRows, err := s.db.QueryContext(ctx, "SELECT source_id, synced_at FROM last_sync")
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to query sync times: %w", err)
	}
	defer syncRows.Close()
	for syncRows.Next() {
		var id, at string
		if err := syncRows.Scan(&id, &at); err != nil {
			return Snapshot{}, err
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return Snapshot{}, fmt.Errorf("bad sync time for %s: %w", id, err)
		}
		snap.LastSync[id] = ts
	}
	return snap, syncRows.Err()
}

// Save replaces the stored snapshot inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM last_sync"); err != nil {
		return err
	}

	insertTask, err := tx.PrepareContext(ctx,
		"INSERT INTO tasks (id, position, extension, updated_at, body) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer insertTask.Close()
	for i, t := range snap.Tasks {
		body, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
		}
		if _, err := insertTask.ExecContext(ctx, t.ID, i, t.Source.Extension,
			t.UpdatedAt.UTC().Format(time.RFC3339Nano), string(body)); err != nil {
			return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
		}
	}

	for id, at := range snap.LastSync {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO last_sync (source_id, synced_at) VALUES (?, ?)",
			id, at.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to insert sync time for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
