package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"gammabot/internal/bus"
	"gammabot/pkg/types"
)

type stubProvider struct {
	portfolio types.PortfolioSnapshot
	open      int
	pending   int
	heartbeat types.HeartbeatStats
	mode      string
	quotes    []types.Quote
}

func (p stubProvider) PortfolioSnapshot() types.PortfolioSnapshot { return p.portfolio }
func (p stubProvider) OpenOrders() int                            { return p.open }
func (p stubProvider) PendingIntents() int                        { return p.pending }
func (p stubProvider) Heartbeat() types.HeartbeatStats            { return p.heartbeat }
func (p stubProvider) FeedMode() string                           { return p.mode }
func (p stubProvider) Quotes() []types.Quote                      { return p.quotes }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHandlers(provider SnapshotProvider, fabric bus.Bus) *Handlers {
	return NewHandlers(provider, fabric, testLogger())
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	h := testHandlers(stubProvider{}, bus.NewMemory(testLogger()))
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body = %q, want ok status", rec.Body.String())
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()

	provider := stubProvider{
		portfolio: types.PortfolioSnapshot{TotalPnL: 12.5, RealizedPnL: 10, UnrealizedPnL: 2.5},
		open:      3,
		pending:   1,
		heartbeat: types.HeartbeatStats{Mode: "synthetic"},
		mode:      "synthetic",
		quotes: []types.Quote{
			{TS: 1, Symbol: "SPY", Bid: 430.1, Ask: 430.2, Mid: 430.15},
		},
	}
	h := testHandlers(provider, bus.NewMemory(testLogger()))
	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest("GET", "/api/v1/snapshot", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.OpenOrders != 3 || snap.PendingOrders != 1 {
		t.Errorf("orders = %d/%d, want 3/1", snap.OpenOrders, snap.PendingOrders)
	}
	if snap.FeedMode != "synthetic" {
		t.Errorf("feed_mode = %q, want synthetic", snap.FeedMode)
	}
	if snap.Portfolio.TotalPnL != 12.5 {
		t.Errorf("portfolio total_pnl = %v, want 12.5", snap.Portfolio.TotalPnL)
	}
	if len(snap.Quotes) != 1 || snap.Quotes[0].Symbol != "SPY" {
		t.Errorf("quotes = %+v, want one SPY quote", snap.Quotes)
	}
	if snap.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestHandleEventsRejectsUnknownStream(t *testing.T) {
	t.Parallel()

	h := testHandlers(stubProvider{}, bus.NewMemory(testLogger()))
	rec := httptest.NewRecorder()
	h.HandleEvents(rec, httptest.NewRequest("GET", "/api/v1/events?streams=nope", nil))

	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleEventsTailsStream(t *testing.T) {
	t.Parallel()

	fabric := bus.NewMemory(testLogger())
	for _, payload := range []string{"first", "second"} {
		if _, err := fabric.Publish(context.Background(), bus.StreamSignals, map[string]string{"v": payload}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	h := testHandlers(stubProvider{}, fabric)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("GET", "/api/v1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.HandleEvents(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got, want := rec.Header().Get("Content-Type"), "text/event-stream"; got != want {
		t.Fatalf("content-type = %q, want %q", got, want)
	}
	body := rec.Body.String()
	firstIdx := strings.Index(body, `{"v":"first"}`)
	secondIdx := strings.Index(body, `{"v":"second"}`)
	if firstIdx < 0 || secondIdx < 0 || firstIdx > secondIdx {
		t.Fatalf("body missing ordered entries:\n%s", body)
	}
	if !strings.Contains(body, "event: signals") {
		t.Fatalf("body missing event field:\n%s", body)
	}
	if !strings.Contains(body, "id: 1-0") {
		t.Fatalf("body missing entry id:\n%s", body)
	}
}

func TestHandleEventsResumesFrom(t *testing.T) {
	t.Parallel()

	fabric := bus.NewMemory(testLogger())
	for _, payload := range []string{"first", "second", "third"} {
		if _, err := fabric.Publish(context.Background(), bus.StreamOMSOrders, map[string]string{"v": payload}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	h := testHandlers(stubProvider{}, fabric)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("GET", "/api/v1/events?streams=oms_orders&from=2-0", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.HandleEvents(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, `{"v":"second"}`) {
		t.Fatalf("body replayed entries at or before from:\n%s", body)
	}
	if !strings.Contains(body, `{"v":"third"}`) {
		t.Fatalf("body missing entries after from:\n%s", body)
	}
}

func TestParseStreams(t *testing.T) {
	t.Parallel()

	if got, want := parseStreams(""), []string{bus.StreamSignals}; !reflect.DeepEqual(got, want) {
		t.Errorf("parseStreams(\"\") = %v, want %v", got, want)
	}
	got := parseStreams(" quotes , oms_orders ,")
	want := []string{"quotes", "oms_orders"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseStreams = %v, want %v", got, want)
	}
}

func TestBuildSnapshotUsesProvider(t *testing.T) {
	t.Parallel()

	provider := stubProvider{open: 7, pending: 2, mode: "live"}
	snap := BuildSnapshot(provider)
	if snap.OpenOrders != 7 || snap.PendingOrders != 2 || snap.FeedMode != "live" {
		t.Fatalf("snapshot = %+v, want provider values", snap)
	}
}
