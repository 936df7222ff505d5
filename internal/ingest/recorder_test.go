package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecorderAppendsLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	recorder, err := NewRecorder(dir, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := recorder.Write([]byte(`{"ev":"Q"}` + "\n")); err != nil {
		t.Fatal(err)
	}
	if err := recorder.Write([]byte("  ")); err != nil {
		t.Fatal(err) // blank payloads are silently skipped
	}
	if err := recorder.Write([]byte(`{"ev":"A"}`)); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "polygon_messages.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0] != `{"ev":"Q"}` || lines[1] != `{"ev":"A"}` {
		t.Errorf("capture = %q", lines)
	}
}

func TestRecorderRotatesBySize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	recorder, err := NewRecorder(dir, 16)
	if err != nil {
		t.Fatal(err)
	}

	if err := recorder.Write([]byte(`{"ev":"Q","sym":"SPY"}`)); err != nil {
		t.Fatal(err)
	}
	// The active file now exceeds 16 bytes, so this write rotates first.
	if err := recorder.Write([]byte(`{"ev":"A"}`)); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var rotated, active int
	for _, entry := range entries {
		switch {
		case entry.Name() == "polygon_messages.jsonl":
			active++
		case strings.HasPrefix(entry.Name(), "polygon_messages.") && strings.HasSuffix(entry.Name(), ".jsonl"):
			rotated++
		}
	}
	if active != 1 || rotated != 1 {
		t.Fatalf("files = %d active, %d rotated, want 1 and 1", active, rotated)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "polygon_messages.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(raw)); got != `{"ev":"A"}` {
		t.Errorf("active capture = %q, want only the post-rotation line", got)
	}
}
