package alertjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"alertengine/internal/logger"
	"alertengine/pkg/models"
)

// Config configures the JSONL event file. Rotation limits of zero use
// lumberjack's defaults (100 MB, no age or count limit).
type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Writer appends lifecycle events to a rotating JSON lines file.
type Writer struct {
	mu   sync.Mutex
	out  *lumberjack.Logger
	path string
}

// NewWriter opens path for appending, creating parent directories.
func NewWriter(path string) (*Writer, error) {
	return NewRotatingWriter(Config{Path: path})
}

// NewRotatingWriter opens cfg.Path with size based rotation.
func NewRotatingWriter(cfg Config) (*Writer, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	out := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	logger.Infof("Alert event JSON writer initialized: %s", cfg.Path)
	return &Writer{out: out, path: cfg.Path}, nil
}

// WriteEvents encodes the batch and appends it in one write, so a batch
// never straddles a rotation.
func (w *Writer) WriteEvents(events []models.AlertEvent) error {
	if len(events) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode alert event: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.out == nil {
		return fmt.Errorf("writer for %s is closed", w.path)
	}
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append alert events: %w", err)
	}
	return nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.out != nil {
		err := w.out.Close()
		w.out = nil
		return err
	}
	return nil
}
