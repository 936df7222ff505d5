package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const captureFile = "polygon_messages.jsonl"

// Recorder appends raw vendor payloads to a JSONL capture for offline
// replay. When the active file reaches rotateBytes it is renamed with a UTC
// timestamp suffix and a fresh file started. A rotateBytes of zero disables
// rotation.
type Recorder struct {
	dir         string
	rotateBytes int64

	mu   sync.Mutex
	path string
}

func NewRecorder(dir string, rotateBytes int64) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if rotateBytes < 0 {
		rotateBytes = 0
	}
	return &Recorder{
		dir:         dir,
		rotateBytes: rotateBytes,
		path:        filepath.Join(dir, captureFile),
	}, nil
}

// Write appends one payload line, rotating first if the file is full.
func (r *Recorder) Write(payload []byte) error {
	line := bytes.TrimSpace(payload)
	if len(line) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rotateBytes > 0 {
		if info, err := os.Stat(r.path); err == nil && info.Size() >= r.rotateBytes {
			stamp := time.Now().UTC().Format("20060102T150405")
			rotated := filepath.Join(r.dir, fmt.Sprintf("polygon_messages.%s.jsonl", stamp))
			if err := os.Rename(r.path, rotated); err != nil {
				return fmt.Errorf("rotate snapshot: %w", err)
			}
		}
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Path returns the active capture file.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}
