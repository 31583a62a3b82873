package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrResultNotFound is returned when a stored result does not exist.
var ErrResultNotFound = errors.New("result not found")

// JSONStore persists results as one JSON file per submission under a
// directory. Writes go through a temp file and rename so readers never
// see a partial result.
type JSONStore struct {
	dir    string
	logger *zap.Logger
}

// NewJSONStore creates the store directory if needed.
func NewJSONStore(dir string, logger *zap.Logger) (*JSONStore, error) {
	if dir == "" {
		return nil, errors.New("store directory required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &JSONStore{dir: dir, logger: logger}, nil
}

// Save writes the result and returns its stored ID and creation time.
func (s *JSONStore) Save(_ context.Context, result *Result) (string, time.Time, error) {
	storedID := uuid.NewString()
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	stored := *result
	stored.CreatedAt = createdAt

	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encoding result: %w", err)
	}

	path := s.path(storedID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", time.Time{}, fmt.Errorf("writing result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", time.Time{}, fmt.Errorf("committing result: %w", err)
	}

	s.logger.Debug("result saved",
		zap.String("stored_id", storedID),
		zap.String("document_id", result.DocumentID),
	)
	return storedID, createdAt, nil
}

// Load reads a stored result by its stored ID.
func (s *JSONStore) Load(_ context.Context, storedID string) (*Result, error) {
	data, err := os.ReadFile(s.path(storedID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrResultNotFound, storedID)
		}
		return nil, fmt.Errorf("reading result: %w", err)
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding result %s: %w", storedID, err)
	}
	return &result, nil
}

// List returns all stored results, newest first.
func (s *JSONStore) List(_ context.Context) ([]*Result, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	var results []*Result
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable result", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		var result Result
		if err := json.Unmarshal(data, &result); err != nil {
			s.logger.Warn("skipping corrupt result", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		results = append(results, &result)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func (s *JSONStore) path(storedID string) string {
	return filepath.Join(s.dir, storedID+".json")
}

var _ SubmissionStore = (*JSONStore)(nil)
