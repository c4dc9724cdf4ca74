// Package artifact stores the files produced by scenario runs.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// A Store resolves artifact paths below Dir and writes artifacts, creating
// directories on demand.
type Store struct {
	Dir string
	// Unique adds a run id suffix to every path so that consecutive runs do not
	// overwrite each other's artifacts.
	Unique bool
}

// Resolve returns the path the artifact name is written to by the run runID.
// Absolute names are kept as they are.
func (s *Store) Resolve(name, runID string) string {
	p := filepath.Clean(name)
	if !filepath.IsAbs(p) && s.Dir != "" {
		p = filepath.Join(s.Dir, p)
	}
	if s.Unique && runID != "" {
		ext := filepath.Ext(p)
		p = fmt.Sprintf("%s-%s%s", strings.TrimSuffix(p, ext), ShortID(runID), ext)
	}
	return p
}

// Write writes data to path.
func (s *Store) Write(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ShortID returns the first eight characters of a run id.
func ShortID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}
