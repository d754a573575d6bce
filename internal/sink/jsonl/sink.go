// Package jsonl writes records as JSON lines, one file per collection.
package jsonl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var validCollection = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config captures the parameters for the local JSONL sink.
type Config struct {
	// BaseDir is the directory holding <collection>.jsonl files.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Sink appends records to local files.
type Sink struct {
	baseDir string

	mu    sync.Mutex
	files map[string]*os.File
}

// New creates the base directory if needed and checks it is writable.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}
	return &Sink{baseDir: cfg.BaseDir, files: make(map[string]*os.File)}, nil
}

// Path returns the file backing collection.
func (s *Sink) Path(collection string) string {
	return filepath.Join(s.baseDir, collection+".jsonl")
}

// Append writes one JSON document per line. A batch is written with a
// single write call so concurrent appends never interleave lines.
func (s *Sink) Append(_ context.Context, collection string, records ...any) error {
	if !validCollection.MatchString(collection) {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	if len(records) == 0 {
		return nil
	}
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("marshal %s record: %w", collection, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fileLocked(collection)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(buf.String()); err != nil {
		return fmt.Errorf("write %s: %w", collection, err)
	}
	return nil
}

func (s *Sink) fileLocked(collection string) (*os.File, error) {
	if f, ok := s.files[collection]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.Path(collection), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", collection, err)
	}
	s.files[collection] = f
	return f, nil
}

// Close syncs and closes every open file.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, f := range s.files {
		if err := f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", name, err))
		}
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(s.files, name)
	}
	return errors.Join(errs...)
}
