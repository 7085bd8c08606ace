package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logx "remindbot/pkg/logx"
)

// fileStore keeps the table in one JSON file:
//
//	{ "<tenantId>": { "enabled": true, "channelId": "<id>" }, ... }
type fileStore struct {
	path string
	log  logx.Logger
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultFilePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	return &fileStore{path: path, log: log}, nil
}

// NewFile returns a file-backed store at path.
func NewFile(path string, log logx.Logger) Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &fileStore{path: path, log: log}
}

func (s *fileStore) Load(ctx context.Context) Table {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("settings unreadable; using empty table", logx.String("path", s.path), logx.Err(err))
		}
		return Table{}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return Table{}
	}
	var t Table
	if err := json.Unmarshal(b, &t); err != nil {
		s.log.Warn("settings malformed; using empty table", logx.String("path", s.path), logx.Err(err))
		return Table{}
	}
	if t == nil {
		return Table{}
	}
	return t
}

// Save writes a temp file next to path and renames it into place.
func (s *fileStore) Save(ctx context.Context, t Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil {
		t = Table{}
	}
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal settings: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create dir: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: write settings: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: write settings: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("storage: replace settings: %w", err)
	}
	return nil
}

func (s *fileStore) Close() error { return nil }
