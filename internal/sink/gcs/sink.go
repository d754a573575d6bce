// Package gcs writes crawl records to Google Cloud Storage as JSONL objects.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
)

// DefaultFlushRecords is the buffered record count that triggers an upload.
const DefaultFlushRecords = 500

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
	// RunID separates objects written by different runs.
	RunID        string
	FlushRecords int
}

// ObjectOpener returns a writer for object; closing it finalizes the upload.
type ObjectOpener func(ctx context.Context, object string) io.WriteCloser

// Sink buffers records per collection and uploads them in parts named
// <prefix>/<collection>/<run>-part-NNNNN.jsonl.
type Sink struct {
	open  ObjectOpener
	cfg   Config
	label string

	mu      sync.Mutex
	buffers map[string]*bytes.Buffer
	counts  map[string]int
	parts   map[string]int
	objects []string
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	bucket := client.Bucket(cfg.Bucket)
	return NewWithOpener(func(ctx context.Context, object string) io.WriteCloser {
		w := bucket.Object(object).NewWriter(ctx)
		w.ContentType = "application/x-ndjson"
		return w
	}, cfg)
}

// NewWithOpener builds a sink over an arbitrary object opener.
func NewWithOpener(open ObjectOpener, cfg Config) (*Sink, error) {
	if open == nil {
		return nil, fmt.Errorf("object opener is required")
	}
	if cfg.FlushRecords <= 0 {
		cfg.FlushRecords = DefaultFlushRecords
	}
	label := cfg.RunID
	if label == "" {
		label = "run"
	}
	return &Sink{
		open:    open,
		cfg:     cfg,
		label:   label,
		buffers: make(map[string]*bytes.Buffer),
		counts:  make(map[string]int),
		parts:   make(map[string]int),
	}, nil
}

// Append buffers records and uploads a part once the flush threshold is hit.
func (s *Sink) Append(ctx context.Context, collection string, records ...any) error {
	if strings.TrimSpace(collection) == "" || strings.Contains(collection, "/") {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.buffers[collection]
	if !ok {
		buf = &bytes.Buffer{}
		s.buffers[collection] = buf
	}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("marshal %s record: %w", collection, err)
		}
		s.counts[collection]++
	}
	if s.counts[collection] >= s.cfg.FlushRecords {
		return s.flushLocked(ctx, collection)
	}
	return nil
}

// Objects lists the object names uploaded so far.
func (s *Sink) Objects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.objects...)
}

// Close uploads every remaining buffer.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for collection := range s.buffers {
		if err := s.flushLocked(ctx, collection); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) flushLocked(ctx context.Context, collection string) error {
	buf := s.buffers[collection]
	if buf == nil || buf.Len() == 0 {
		return nil
	}
	s.parts[collection]++
	object := path.Join(s.cfg.Prefix, collection, fmt.Sprintf("%s-part-%05d.jsonl", s.label, s.parts[collection]))

	writer := s.open(ctx, object)
	if _, err := io.Copy(writer, bytes.NewReader(buf.Bytes())); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object %s: %w (close writer: %v)", object, err, closeErr)
		}
		return fmt.Errorf("copy object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer %s: %w", object, err)
	}
	buf.Reset()
	s.counts[collection] = 0
	s.objects = append(s.objects, object)
	return nil
}
