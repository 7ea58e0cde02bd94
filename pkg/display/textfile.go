// Package display publishes the queue counter for stream overlays.
package display

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// TextFile writes "Queue: processed/total" to a file that overlay
// software (OBS text sources and the like) watches. Writes are atomic
// so the overlay never reads a half-written counter.
type TextFile struct {
	path   string
	logger *log.Logger
}

// NewTextFile builds an updater writing to path. An empty path yields
// an updater that drops everything.
func NewTextFile(path string, logger *log.Logger) *TextFile {
	if logger == nil {
		logger = log.Default()
	}
	return &TextFile{path: path, logger: logger}
}

// Update implements queue.DisplayUpdater.
func (t *TextFile) Update(processed, total int) error {
	if t.path == "" {
		return nil
	}

	content := fmt.Sprintf("Queue: %d/%d", processed, total)

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create display directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "display-*.tmp")
	if err != nil {
		return fmt.Errorf("create display temp file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write display file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close display file: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish display file: %w", err)
	}

	t.logger.Debug("display updated", "content", content)
	return nil
}
