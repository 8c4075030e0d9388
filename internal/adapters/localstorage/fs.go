package localstorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const (
	inputFile   = "input.json"
	resultsFile = "results.json"
)

// LocalStorage implements ports.Storage for the local filesystem.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{BaseDir: baseDir}
}

// InitJob creates the job directory.
func (s *LocalStorage) InitJob(ctx context.Context, jobID string) error {
	path := s.GetJobPath(jobID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create job directory %s: %w", path, err)
	}
	return nil
}

// SaveInput saves the job parameters.
func (s *LocalStorage) SaveInput(ctx context.Context, jobID string, data []byte) error {
	return s.write(jobID, inputFile, data)
}

// SaveResults saves the processed people.
func (s *LocalStorage) SaveResults(ctx context.Context, jobID string, data []byte) error {
	return s.write(jobID, resultsFile, data)
}

// GetJobPath returns the path for a job directory.
func (s *LocalStorage) GetJobPath(jobID string) string {
	return filepath.Join(s.BaseDir, "jobs", jobID)
}

// write replaces name via a temp file and rename.
func (s *LocalStorage) write(jobID, name string, data []byte) error {
	dir := s.GetJobPath(jobID)
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}
