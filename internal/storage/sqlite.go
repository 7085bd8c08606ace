package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Load(ctx context.Context) Table {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id, enabled, channel_id FROM tenant_settings`)
	if err != nil {
		s.log.Warn("settings query failed; using empty table", logx.Err(err))
		return Table{}
	}
	defer rows.Close()

	t := Table{}
	for rows.Next() {
		var (
			id      string
			enabled bool
			channel sql.NullString
		)
		if err := rows.Scan(&id, &enabled, &channel); err != nil {
			s.log.Warn("settings row malformed; using empty table", logx.Err(err))
			return Table{}
		}
		t[id] = TenantConfig{Enabled: enabled, DestinationID: channel.String}
	}
	if err := rows.Err(); err != nil {
		s.log.Warn("settings scan failed; using empty table", logx.Err(err))
		return Table{}
	}
	return t
}

// Save replaces every row in one transaction.
func (s *sqliteStore) Save(ctx context.Context, t Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_settings`); err != nil {
		return fmt.Errorf("storage: clear settings: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tenant_settings(tenant_id, enabled, channel_id) VALUES(?,?,?)`)
	if err != nil {
		return fmt.Errorf("storage: prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, id := range t.TenantIDs() {
		c := t[id]
		if _, err := stmt.ExecContext(ctx, id, c.Enabled, nullStr(c.DestinationID)); err != nil {
			return fmt.Errorf("storage: insert %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
