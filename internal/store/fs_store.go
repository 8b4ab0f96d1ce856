package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore keeps each run in <baseDir>/runs/<runID>/: record.json plus the
// optional stage trace.jsonl.
//
// Writes use temp file + rename, so readers never observe a partial record.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem store rooted at baseDir, creating it if
// needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the store root.
func (fs *FSStore) BaseDir() string { return fs.baseDir }

// RunDir returns the directory holding a run's files.
func (fs *FSStore) RunDir(runID string) string {
	return runDir(fs.baseDir, runID)
}

func runDir(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID)
}

func (fs *FSStore) recordPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "record.json")
}

// SaveRun atomically saves the record.
func (fs *FSStore) SaveRun(record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid run record: %w", err)
	}

	dir := fs.RunDir(record.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize run record: %w", err)
	}

	finalPath := fs.recordPath(record.ID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp record file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename record file: %w", err)
	}

	slog.Debug("Run saved", "runID", record.ID, "path", finalPath)
	return nil
}

// LoadRun reads the record of a run.
func (fs *FSStore) LoadRun(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	path := fs.recordPath(runID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize run record: %w", err)
	}

	slog.Debug("Run loaded", "runID", runID, "path", path)
	return &record, nil
}

// ListRuns returns metadata for all stored runs, newest first. Unreadable
// records are skipped with a warning.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	entries, err := os.ReadDir(filepath.Join(fs.baseDir, "runs"))
	if os.IsNotExist(err) {
		return []RunInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(fs.recordPath(entry.Name())); os.IsNotExist(err) {
			continue
		}
		record, err := fs.LoadRun(entry.Name())
		if err != nil {
			slog.Warn("Failed to load run for listing", "runID", entry.Name(), "error", err)
			continue
		}
		infos = append(infos, record.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// FindRun resolves a full run ID from a unique prefix of it.
func (fs *FSStore) FindRun(prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("run ID cannot be empty")
	}
	if _, err := os.Stat(fs.recordPath(prefix)); err == nil {
		return prefix, nil
	}

	infos, err := fs.ListRuns()
	if err != nil {
		return "", err
	}
	var match string
	for _, info := range infos {
		if len(info.ID) >= len(prefix) && info.ID[:len(prefix)] == prefix {
			if match != "" {
				return "", fmt.Errorf("run ID prefix %q is ambiguous", prefix)
			}
			match = info.ID
		}
	}
	if match == "" {
		return "", &NotFoundError{RunID: prefix}
	}
	return match, nil
}

// DeleteRun removes the run directory and everything in it.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	dir := fs.RunDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "runID", runID, "path", dir)
	return nil
}
