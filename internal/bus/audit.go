package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditConfig controls the JSONL publish mirror. An empty Dir disables it.
type AuditConfig struct {
	Dir         string   `mapstructure:"dir"`
	Streams     []string `mapstructure:"streams"` // allowlist; empty mirrors everything
	RotateBytes int64    `mapstructure:"rotate_bytes"`
}

// Enabled reports whether the config names an output directory.
func (c AuditConfig) Enabled() bool { return c.Dir != "" }

type auditRecord struct {
	stream  string
	payload []byte
}

type auditFile struct {
	path string
	f    *os.File
	size int64
}

// Auditor mirrors stream publishes to one JSONL file per stream, rotating by
// size. Records are queued to a single writer goroutine so a slow disk never
// blocks Publish; when the queue is full the record is dropped with a warn.
type Auditor struct {
	cfg     AuditConfig
	allowed map[string]struct{}
	queue   chan auditRecord
	done    chan struct{}
	log     *slog.Logger

	closeOnce sync.Once
}

// NewAuditor starts the writer goroutine. Callers must Close to flush.
func NewAuditor(cfg AuditConfig, logger *slog.Logger) (*Auditor, error) {
	if cfg.RotateBytes <= 0 {
		cfg.RotateBytes = 512 * 1024 * 1024
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	a := &Auditor{
		cfg:   cfg,
		queue: make(chan auditRecord, 1024),
		done:  make(chan struct{}),
		log:   logger.With("component", "stream_audit"),
	}
	if len(cfg.Streams) > 0 {
		a.allowed = make(map[string]struct{}, len(cfg.Streams))
		for _, s := range cfg.Streams {
			s = strings.TrimSpace(s)
			if s != "" {
				a.allowed[s] = struct{}{}
			}
		}
	}
	go a.run()
	return a, nil
}

// Record enqueues one publish for mirroring. Never blocks.
func (a *Auditor) Record(stream string, payload []byte) {
	if a.allowed != nil {
		if _, ok := a.allowed[stream]; !ok {
			return
		}
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case a.queue <- auditRecord{stream: stream, payload: buf}:
	default:
		a.log.Warn("audit queue full, dropping record", "stream", stream)
	}
}

// Close drains the queue and closes all files.
func (a *Auditor) Close() {
	a.closeOnce.Do(func() {
		close(a.queue)
		<-a.done
	})
}

func (a *Auditor) run() {
	defer close(a.done)
	files := make(map[string]*auditFile)
	defer func() {
		for _, af := range files {
			af.f.Close()
		}
	}()
	for rec := range a.queue {
		af, err := a.open(files, rec.stream)
		if err != nil {
			a.log.Warn("audit open failed", "stream", rec.stream, "err", err)
			continue
		}
		line, err := json.Marshal(struct {
			TS      string          `json:"ts"`
			Stream  string          `json:"stream"`
			Payload json.RawMessage `json:"payload"`
		}{
			TS:      time.Now().UTC().Format(time.RFC3339Nano),
			Stream:  rec.stream,
			Payload: rec.payload,
		})
		if err != nil {
			continue
		}
		line = append(line, '\n')
		if af.size > 0 && af.size+int64(len(line)) > a.cfg.RotateBytes {
			if err := a.rotate(af); err != nil {
				a.log.Warn("audit rotate failed", "stream", rec.stream, "err", err)
			}
		}
		n, err := af.f.Write(line)
		if err != nil {
			a.log.Warn("audit write failed", "stream", rec.stream, "err", err)
			continue
		}
		af.size += int64(n)
	}
}

func (a *Auditor) open(files map[string]*auditFile, stream string) (*auditFile, error) {
	if af, ok := files[stream]; ok {
		return af, nil
	}
	path := filepath.Join(a.cfg.Dir, sanitizeStream(stream)+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	af := &auditFile{path: path, f: f, size: info.Size()}
	files[stream] = af
	return af, nil
}

// rotate renames the active file with a UTC timestamp suffix and reopens.
func (a *Auditor) rotate(af *auditFile) error {
	if err := af.f.Close(); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format("20060102T150405Z")
	base := strings.TrimSuffix(af.path, ".jsonl")
	if err := os.Rename(af.path, base+"."+stamp+".jsonl"); err != nil {
		return err
	}
	f, err := os.OpenFile(af.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	af.f = f
	af.size = 0
	return nil
}

func sanitizeStream(stream string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(stream)
}
