package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"gammabot/internal/bus"
)

// knownStreams guards the tail endpoint against arbitrary stream names.
var knownStreams = map[string]bool{
	bus.StreamQuotes:       true,
	bus.StreamAggs:         true,
	bus.StreamOptionMeta:   true,
	bus.StreamHeartbeat:    true,
	bus.StreamFeatures:     true,
	bus.StreamSignals:      true,
	bus.StreamLearnerAdj:   true,
	bus.StreamRiskOrders:   true,
	bus.StreamRiskCommands: true,
	bus.StreamOMSOrders:    true,
	bus.StreamOMSMetrics:   true,
	bus.StreamExecution:    true,
	bus.StreamPortfolio:    true,
}

// HandleEvents tails fabric streams as server-sent events. ?streams= selects
// a comma-separated set (default signals); ?from= resumes after an entry ID.
// Retained history replays first, then the tail follows live publishes until
// the client disconnects.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	streams := parseStreams(r.URL.Query().Get("streams"))
	for _, stream := range streams {
		if !knownStreams[stream] {
			http.Error(w, fmt.Sprintf("unknown stream %q", stream), http.StatusBadRequest)
			return
		}
	}
	start := r.URL.Query().Get("from")
	if start == "" {
		start = bus.StartBeginning
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// One consumer per stream; writes to the shared response are serialized.
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(r.Context())
	for _, stream := range streams {
		g.Go(func() error {
			return h.fabric.Consume(ctx, stream, start, func(_ context.Context, entry bus.Entry) error {
				mu.Lock()
				defer mu.Unlock()
				if _, err := fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", stream, entry.ID, entry.Payload); err != nil {
					return err
				}
				flusher.Flush()
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Debug("event tail closed", "error", err)
	}
}

func parseStreams(raw string) []string {
	if raw == "" {
		return []string{bus.StreamSignals}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
