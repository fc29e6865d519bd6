package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileScheduleStore keeps the schedule as a small JSON file. Writes go to
// a temp file and are renamed into place, so readers (including other
// processes) never see a partial schedule.
type FileScheduleStore struct {
	mu   sync.Mutex
	path string
}

// NewFileScheduleStore creates a store backed by path
func NewFileScheduleStore(path string) *FileScheduleStore {
	return &FileScheduleStore{path: path}
}

// Path returns the schedule file location
func (s *FileScheduleStore) Path() string {
	return s.path
}

// Read returns the pending schedule, nil if there is none, or an error if
// the file exists but cannot be used.
func (s *FileScheduleStore) Read() (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule: %w", err)
	}

	var sched Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, fmt.Errorf("corrupt schedule %s: %w", s.path, err)
	}
	if sched.FireAt.IsZero() {
		return nil, fmt.Errorf("corrupt schedule %s: missing wakeAt", s.path)
	}
	return &sched, nil
}

// Write replaces the schedule
func (s *FileScheduleStore) Write(sched Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sched, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create schedule directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".wake-*.json")
	if err != nil {
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write schedule: %w", err)
	}
	return nil
}

// Clear removes the schedule. Clearing an empty store is not an error.
func (s *FileScheduleStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	return nil
}
