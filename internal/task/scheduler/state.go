package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DayStore remembers the last local day a tick ran so the once-per-day guard
// survives restarts.
type DayStore interface {
	LastDay() (string, error)
	SetLastDay(day string) error
}

type dayState struct {
	LastDay string `json:"last_day"`
}

// FileDayStore keeps the last fired day in a small JSON file.
type FileDayStore struct {
	path string
}

func NewFileDayStore(path string) *FileDayStore { return &FileDayStore{path: path} }

// LastDay returns "" when the file does not exist yet.
func (f *FileDayStore) LastDay() (string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scheduler state: read: %w", err)
	}
	var st dayState
	if err := json.Unmarshal(b, &st); err != nil {
		return "", fmt.Errorf("scheduler state: decode %s: %w", f.path, err)
	}
	return st.LastDay, nil
}

// SetLastDay writes a temp file next to path and renames it into place.
func (f *FileDayStore) SetLastDay(day string) error {
	b, err := json.Marshal(dayState{LastDay: day})
	if err != nil {
		return fmt.Errorf("scheduler state: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("scheduler state: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("scheduler state: write: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("scheduler state: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("scheduler state: write: %w", err)
	}
	if err := os.Rename(name, f.path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("scheduler state: replace: %w", err)
	}
	return nil
}
