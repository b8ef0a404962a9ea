package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zaphod7777/Phishfindr/internal/event"
	"github.com/zaphod7777/Phishfindr/internal/logging"
)

// File appends one JSON object per line to an append-only file. Writes go
// straight to the file descriptor, so each call is flushed on return. Safe
// for a single writer only.
type File struct {
	path string
	f    *os.File
	log  *logging.Logger
}

// NewFile opens (or creates) the target file, creating parent directories
// as needed.
func NewFile(path string, log *logging.Logger) (*File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sink directory %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink file %s: %w", path, err)
	}

	return &File{path: path, f: f, log: log}, nil
}

func (s *File) Name() string { return "file" }

func (s *File) Write(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID(), err)
	}

	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return nil
}

func (s *File) Close(ctx context.Context) error {
	return s.f.Close()
}
