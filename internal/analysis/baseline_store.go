package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// BaselineStore keeps one saved baseline per repository as a JSON file.
type BaselineStore struct {
	dataDir string
}

// NewBaselineStore creates a store rooted at dataDir
func NewBaselineStore(dataDir string) *BaselineStore {
	return &BaselineStore{dataDir: dataDir}
}

// Load returns the saved baseline for repo, or nil when none was saved.
func (s *BaselineStore) Load(repo string) (*Baseline, error) {
	data, err := os.ReadFile(s.path(repo))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode baseline for %s: %w", repo, err)
	}
	return &b, nil
}

// Save writes the baseline for repo, replacing any previous one.
func (s *BaselineStore) Save(repo string, b *Baseline) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create baseline directory: %w", err)
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}

	// replace atomically
	tmp := s.path(repo) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write baseline file: %w", err)
	}
	if err := os.Rename(tmp, s.path(repo)); err != nil {
		return fmt.Errorf("failed to replace baseline file: %w", err)
	}
	return nil
}

// Delete removes the saved baseline for repo and reports whether one existed.
func (s *BaselineStore) Delete(repo string) (bool, error) {
	err := os.Remove(s.path(repo))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete baseline file: %w", err)
	}
	return true, nil
}

// List returns the repositories that have a saved baseline.
func (s *BaselineStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list baselines: %w", err)
	}

	var repos []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		repos = append(repos, strings.ReplaceAll(name, "__", "/"))
	}
	return repos, nil
}

// path maps "owner/repo" to "<dataDir>/owner__repo.json".
func (s *BaselineStore) path(repo string) string {
	slug := strings.NewReplacer("/", "__", "\\", "__", "..", "_").Replace(strings.TrimSpace(repo))
	if slug == "" {
		slug = "default"
	}
	return filepath.Join(s.dataDir, slug+".json")
}
