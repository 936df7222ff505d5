package oms

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gammabot/pkg/types"
)

// OrderAudit appends every order status to a single JSONL trail, rotating by
// size. Records are queued to a writer goroutine so a slow disk never blocks
// the routing path; when the queue is full the record is dropped with a warn.
type OrderAudit struct {
	path        string
	rotateBytes int64
	queue       chan types.OrderStatus
	done        chan struct{}
	log         *slog.Logger

	closeOnce sync.Once
}

// NewOrderAudit opens the trail file and starts the writer. rotateMB <= 0
// falls back to 256 MB. Callers must Close to flush.
func NewOrderAudit(path string, rotateMB int, logger *slog.Logger) (*OrderAudit, error) {
	if rotateMB <= 0 {
		rotateMB = 256
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	a := &OrderAudit{
		path:        path,
		rotateBytes: int64(rotateMB) * 1024 * 1024,
		queue:       make(chan types.OrderStatus, 1024),
		done:        make(chan struct{}),
		log:         logger.With("component", "order_audit"),
	}
	go a.run()
	return a, nil
}

// Record enqueues one status for the trail. Never blocks.
func (a *OrderAudit) Record(status types.OrderStatus) {
	select {
	case a.queue <- status:
	default:
		a.log.Warn("order audit queue full, dropping record", "order_id", status.OrderID)
	}
}

// Close drains the queue and closes the file.
func (a *OrderAudit) Close() {
	a.closeOnce.Do(func() {
		close(a.queue)
		<-a.done
	})
}

func (a *OrderAudit) run() {
	defer close(a.done)
	f, size, err := a.open()
	if err != nil {
		a.log.Warn("order audit open failed", "path", a.path, "err", err)
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()
	for status := range a.queue {
		if f == nil {
			if f, size, err = a.open(); err != nil {
				continue
			}
		}
		line, err := json.Marshal(struct {
			TS     string            `json:"ts"`
			Status types.OrderStatus `json:"status"`
		}{
			TS:     time.Now().UTC().Format(time.RFC3339Nano),
			Status: status,
		})
		if err != nil {
			continue
		}
		line = append(line, '\n')
		if size > 0 && size+int64(len(line)) > a.rotateBytes {
			if f, err = a.rotate(f); err != nil {
				a.log.Warn("order audit rotate failed", "err", err)
				continue
			}
			size = 0
		}
		n, err := f.Write(line)
		if err != nil {
			a.log.Warn("order audit write failed", "err", err)
			continue
		}
		size += int64(n)
	}
}

func (a *OrderAudit) open() (*os.File, int64, error) {
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// rotate renames the active trail with a UTC timestamp suffix and reopens.
func (a *OrderAudit) rotate(f *os.File) (*os.File, error) {
	if err := f.Close(); err != nil {
		return nil, err
	}
	stamp := time.Now().UTC().Format("20060102T150405Z")
	base := strings.TrimSuffix(a.path, filepath.Ext(a.path))
	if err := os.Rename(a.path, base+"."+stamp+".jsonl"); err != nil {
		return nil, err
	}
	return os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
