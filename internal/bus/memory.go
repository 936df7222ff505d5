package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process fabric backend. It is deterministic and safe for
// concurrent producers and consumers, which makes it the default for tests
// and the backtest harness.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*memStream

	maxLen  int
	block   time.Duration
	auditor *Auditor
	log     *slog.Logger
}

type memStream struct {
	mu      sync.Mutex
	entries []Entry
	seq     int64 // seq of the next appended entry
	base    int64 // seq of entries[0]
	signal  chan struct{}
}

// MemoryOption tweaks a Memory bus.
type MemoryOption func(*Memory)

// WithMaxLen overrides the approximate per-stream bound.
func WithMaxLen(n int) MemoryOption { return func(m *Memory) { m.maxLen = n } }

// WithBlock overrides how long an idle consumer waits before re-checking.
func WithBlock(d time.Duration) MemoryOption { return func(m *Memory) { m.block = d } }

// WithAuditor mirrors every publish into the given auditor.
func WithAuditor(a *Auditor) MemoryOption { return func(m *Memory) { m.auditor = a } }

// NewMemory builds an in-memory bus.
func NewMemory(logger *slog.Logger, opts ...MemoryOption) *Memory {
	m := &Memory{
		streams: make(map[string]*memStream),
		maxLen:  DefaultMaxLen,
		block:   time.Second,
		log:     logger.With("component", "bus"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) stream(name string) *memStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[name]
	if !ok {
		s = &memStream{seq: 1, base: 1, signal: make(chan struct{})}
		m.streams[name] = s
	}
	return s
}

// Publish appends payload to the named stream and returns the entry ID.
func (m *Memory) Publish(ctx context.Context, stream string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", stream, err)
	}
	if m.auditor != nil {
		m.auditor.Record(stream, data)
	}
	s := m.stream(stream)
	s.mu.Lock()
	id := formatID(s.seq)
	s.entries = append(s.entries, Entry{ID: id, Payload: data})
	s.seq++
	if m.maxLen > 0 && len(s.entries) > m.maxLen {
		drop := len(s.entries) - m.maxLen
		s.entries = append([]Entry(nil), s.entries[drop:]...)
		s.base += int64(drop)
	}
	close(s.signal)
	s.signal = make(chan struct{})
	s.mu.Unlock()
	return id, nil
}

// Consume delivers entries after start in order until ctx is cancelled.
// Handler errors are logged and the loop continues.
func (m *Memory) Consume(ctx context.Context, stream, start string, fn Handler) error {
	last := parseID(start)
	s := m.stream(stream)
	for {
		batch, signal := s.after(last, 100)
		for _, entry := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, entry); err != nil {
				m.log.Warn("handler failed", "stream", stream, "id", entry.ID, "err", err)
			}
			last = parseID(entry.ID)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal:
		case <-time.After(m.block):
		}
	}
}

// Close is a no-op for the memory backend.
func (m *Memory) Close() error { return nil }

// Len reports the retained entry count for a stream.
func (m *Memory) Len(stream string) int {
	s := m.stream(stream)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// after returns up to limit entries with seq > last, plus the channel that
// will be closed on the next append (for blocking when the batch is empty).
func (s *memStream) after(last int64, limit int) ([]Entry, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := last + 1 - s.base
	if idx < 0 {
		idx = 0 // trimmed history; resume from the oldest retained entry
	}
	if idx >= int64(len(s.entries)) {
		return nil, s.signal
	}
	end := idx + int64(limit)
	if end > int64(len(s.entries)) {
		end = int64(len(s.entries))
	}
	batch := make([]Entry, end-idx)
	copy(batch, s.entries[idx:end])
	return batch, s.signal
}

func formatID(seq int64) string { return strconv.FormatInt(seq, 10) + "-0" }

func parseID(id string) int64 {
	if id == "" || id == StartBeginning {
		return 0
	}
	head, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
