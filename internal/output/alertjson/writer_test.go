package alertjson

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"alertengine/pkg/models"
)

func TestWriterAppendsFlatRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 0; i < 2; i++ {
		w, err := NewWriter(path)
		if err != nil {
			t.Fatalf("new writer: %v", err)
		}
		err = w.WriteEvents([]models.AlertEvent{{Timestamp: ts, Type: models.EventCreated, AlertID: "a", Severity: models.SeverityHigh, Status: models.StatusActive}})
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		if rec["severity"] != "high" || rec["status"] != "active" || rec["type"] != "created" {
			t.Fatalf("unexpected record: %v", rec)
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 appended lines, got %d", lines)
	}
}

func TestWriterRejectsWritesAfterClose(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteEvents(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.WriteEvents([]models.AlertEvent{{Type: models.EventCreated}}); err == nil {
		t.Fatal("expected error writing to a closed writer")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNewRotatingWriterRequiresPath(t *testing.T) {
	if _, err := NewRotatingWriter(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
