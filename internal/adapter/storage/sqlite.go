package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/semmidev/keeper/internal/domain"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// SQLiteStore keeps entities as JSON documents in a single SQLite file.
// Rows are listed in insertion order.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection serialises writers, which gives every
	// read-modify-write the same critical section as the json driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListInstances(ctx context.Context) ([]domain.BackupInstance, error) {
	var list []domain.BackupInstance
	err := listDocs(ctx, s.db, "SELECT doc FROM instances ORDER BY rowid", func(doc []byte) error {
		var inst domain.BackupInstance
		if err := json.Unmarshal(doc, &inst); err != nil {
			return err
		}
		list = append(list, inst)
		return nil
	})
	return list, err
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*domain.BackupInstance, error) {
	var inst domain.BackupInstance
	if err := getDoc(ctx, s.db, "SELECT doc FROM instances WHERE id = ?", id, &inst); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("instance", id)
		}
		return nil, err
	}
	return &inst, nil
}

func (s *SQLiteStore) PutInstance(ctx context.Context, inst domain.BackupInstance) error {
	return putDoc(ctx, s.db, "instances", inst.ID, inst)
}

func (s *SQLiteStore) DeleteInstance(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "instances", id, "instance")
}

func (s *SQLiteStore) UpdateInstance(ctx context.Context, id string, fn func(*domain.BackupInstance) error) (*domain.BackupInstance, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inst domain.BackupInstance
	if err := getDoc(ctx, tx, "SELECT doc FROM instances WHERE id = ?", id, &inst); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("instance", id)
		}
		return nil, err
	}
	if err := fn(&inst); err != nil {
		return nil, err
	}
	if err := putDoc(ctx, tx, "instances", inst.ID, inst); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &inst, nil
}

func (s *SQLiteStore) ListMonitors(ctx context.Context) ([]domain.UptimeMonitor, error) {
	var list []domain.UptimeMonitor
	err := listDocs(ctx, s.db, "SELECT doc FROM monitors ORDER BY rowid", func(doc []byte) error {
		var m domain.UptimeMonitor
		if err := json.Unmarshal(doc, &m); err != nil {
			return err
		}
		list = append(list, m)
		return nil
	})
	return list, err
}

func (s *SQLiteStore) GetMonitor(ctx context.Context, id string) (*domain.UptimeMonitor, error) {
	var m domain.UptimeMonitor
	if err := getDoc(ctx, s.db, "SELECT doc FROM monitors WHERE id = ?", id, &m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("monitor", id)
		}
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) PutMonitor(ctx context.Context, m domain.UptimeMonitor) error {
	return putDoc(ctx, s.db, "monitors", m.ID, m)
}

func (s *SQLiteStore) DeleteMonitor(ctx context.Context, id string) error {
	return deleteDoc(ctx, s.db, "monitors", id, "monitor")
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, monitorID string, e domain.HistoryEntry, limit int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rt sql.NullInt64
	if e.ResponseTime != nil {
		rt = sql.NullInt64{Int64: *e.ResponseTime, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO history(monitor_id, ts, status, response_ms) VALUES(?,?,?,?)",
		monitorID, e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.Status), rt,
	); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	if limit > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM history WHERE monitor_id = ? AND seq NOT IN (
				SELECT seq FROM history WHERE monitor_id = ? ORDER BY seq DESC LIMIT ?)`,
			monitorID, monitorID, limit,
		); err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) History(ctx context.Context, monitorID string) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts, status, response_ms FROM history WHERE monitor_id = ? ORDER BY seq", monitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			ts, status string
			rt         sql.NullInt64
		)
		if err := rows.Scan(&ts, &status, &rt); err != nil {
			return nil, err
		}
		at, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("bad history timestamp %q: %w", ts, err)
		}
		e := domain.HistoryEntry{Timestamp: at, Status: domain.Status(status)}
		if rt.Valid {
			v := rt.Int64
			e.ResponseTime = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func listDocs(ctx context.Context, q querier, query string, each func([]byte) error) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return err
		}
		if err := each(doc); err != nil {
			return fmt.Errorf("failed to decode row: %w", err)
		}
	}
	return rows.Err()
}

func getDoc(ctx context.Context, q querier, query, id string, v any) error {
	var doc []byte
	if err := q.QueryRowContext(ctx, query, id).Scan(&doc); err != nil {
		return err
	}
	return json.Unmarshal(doc, v)
}

// table is always one of the package's own constants.
func putDoc(ctx context.Context, q querier, table, id string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s(id, doc) VALUES(?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc", table),
		id, string(doc))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", table, err)
	}
	return nil
}

func deleteDoc(ctx context.Context, q querier, table, id, kind string) error {
	res, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound(kind, id)
	}
	return nil
}
