package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"gammabot/internal/bus"
	"gammabot/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func filledStatus() types.OrderStatus {
	return types.OrderStatus{
		TS:      1700000000000000,
		OrderID: "42",
		State:   types.StateFilled,
		Request: types.OrderRequest{
			TS:           1700000000000000,
			Underlying:   "SPY",
			OptionSymbol: "SPY240119C00470000",
			Side:         types.BUY,
			Quantity:     1,
			EntryPrice:   1.20,
			TargetPrice:  1.80,
			StopPrice:    0.90,
			Metadata:     map[string]any{"client_order_id": "coid-1"},
		},
		Fills: []types.Fill{{Price: 1.25, Qty: 1, TS: 1700000000250000}},
	}
}

func TestBuildReportOnlyForFilled(t *testing.T) {
	t.Parallel()
	a := NewAnalytics()
	for _, state := range []string{types.StateOpen, types.StatePartiallyFilled, types.StateCancelled, types.StateRejected} {
		status := filledStatus()
		status.State = state
		if got := a.BuildReport(status); got != nil {
			t.Errorf("state %s produced a report", state)
		}
	}
	if got := a.BuildReport(filledStatus()); got == nil {
		t.Fatal("filled status produced no report")
	}
}

func TestBuildReportMath(t *testing.T) {
	t.Parallel()
	a := NewAnalytics()
	a.UpdateQuote(types.Quote{TS: 1, Symbol: "SPY240119C00470000", Bid: 1.20, Ask: 1.30, Mid: 1.25})
	a.UpdateQuote(types.Quote{TS: 1, Symbol: "SPY", Bid: 469.9, Ask: 470.1, Mid: 470.0})

	status := filledStatus()
	status.Fills[0].Price = 1.26
	report := a.BuildReport(status)
	if report == nil {
		t.Fatal("no report")
	}
	if report.OptionMid == nil || *report.OptionMid != 1.25 {
		t.Fatalf("option_mid = %v", report.OptionMid)
	}
	if report.UnderlyingMid == nil || *report.UnderlyingMid != 470.0 {
		t.Fatalf("underlying_mid = %v", report.UnderlyingMid)
	}
	// (1.26 - 1.25) / 1.25 * 10000 = 80 bps
	if report.SlippageBps == nil || !almostEqual(*report.SlippageBps, 80, 1e-6) {
		t.Fatalf("slippage_bps = %v, want 80", report.SlippageBps)
	}
	// (fill_ts - request_ts) / 1000 = 250ms
	if !almostEqual(report.LatencyMS, 250, 1e-9) {
		t.Errorf("latency_ms = %v, want 250", report.LatencyMS)
	}
	// BUY: (1.80-1.26)/(1.26-0.90) = 0.54/0.36 = 1.5
	if report.RiskReward == nil || !almostEqual(*report.RiskReward, 1.5, 1e-9) {
		t.Fatalf("risk_reward = %v, want 1.5", report.RiskReward)
	}
}

func TestBuildReportSellSideRiskReward(t *testing.T) {
	t.Parallel()
	a := NewAnalytics()
	status := filledStatus()
	status.Request.Side = types.SELL
	status.Request.TargetPrice = 0.80
	status.Request.StopPrice = 1.60
	status.Fills[0].Price = 1.20

	report := a.BuildReport(status)
	// SELL: (1.20-0.80)/(1.60-1.20) = 1.0
	if report.RiskReward == nil || !almostEqual(*report.RiskReward, 1.0, 1e-9) {
		t.Fatalf("risk_reward = %v, want 1.0", report.RiskReward)
	}
}

func TestBuildReportWithoutQuotes(t *testing.T) {
	t.Parallel()
	a := NewAnalytics()
	report := a.BuildReport(filledStatus())
	if report.OptionMid != nil || report.UnderlyingMid != nil || report.SlippageBps != nil {
		t.Errorf("expected nil reference fields, got %+v", report)
	}
}

func TestBuildReportFallsBackToRequest(t *testing.T) {
	t.Parallel()
	a := NewAnalytics()
	status := filledStatus()
	status.Fills = nil

	report := a.BuildReport(status)
	if report.FillPrice != 1.20 || report.FillQty != 1 {
		t.Errorf("fill fallback = %v x %d, want request entry 1.20 x 1", report.FillPrice, report.FillQty)
	}
	if report.FillTS != status.TS {
		t.Errorf("fill_ts = %d, want status ts", report.FillTS)
	}
	if report.LatencyMS != 0 {
		t.Errorf("latency = %v, want 0", report.LatencyMS)
	}
}

func TestBuildReportZeroRiskOmitsRatio(t *testing.T) {
	t.Parallel()
	a := NewAnalytics()
	status := filledStatus()
	status.Request.StopPrice = 1.25
	status.Fills[0].Price = 1.25
	report := a.BuildReport(status)
	if report.RiskReward != nil {
		t.Errorf("risk_reward = %v, want nil when risk collapses", *report.RiskReward)
	}
}

func TestLatencyNeverNegative(t *testing.T) {
	t.Parallel()
	a := NewAnalytics()
	status := filledStatus()
	status.Fills[0].TS = status.Request.TS - 5_000_000 // clock skew
	report := a.BuildReport(status)
	if report.LatencyMS != 0 {
		t.Errorf("latency = %v, want clamped 0", report.LatencyMS)
	}
}

func TestQuoteBookSplitsOptionAndUnderlying(t *testing.T) {
	t.Parallel()
	a := NewAnalytics()
	a.UpdateQuote(types.Quote{Symbol: "SPY240119C00470000", Mid: 1.25})
	a.UpdateQuote(types.Quote{Symbol: "SPY", Mid: 470})
	if len(a.options) != 1 || len(a.underlyings) != 1 {
		t.Fatalf("books = %d options / %d underlyings", len(a.options), len(a.underlyings))
	}
}

func TestServiceRunPublishesReports(t *testing.T) {
	fabric := bus.NewMemory(testLogger())
	svc := NewService(fabric, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	if _, err := fabric.Publish(context.Background(), bus.StreamQuotes,
		types.Quote{TS: 1, Symbol: "SPY240119C00470000", Bid: 1.20, Ask: 1.30}); err != nil {
		t.Fatalf("publish quote: %v", err)
	}
	if _, err := fabric.Publish(context.Background(), bus.StreamOMSOrders, filledStatus()); err != nil {
		t.Fatalf("publish status: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer waitCancel()
	var reports []types.ExecutionReport
	done := make(chan struct{})
	go func() {
		defer close(done)
		fabric.Consume(waitCtx, bus.StreamExecution, bus.StartBeginning, func(_ context.Context, entry bus.Entry) error {
			var report types.ExecutionReport
			if err := json.Unmarshal(entry.Payload, &report); err != nil {
				return err
			}
			reports = append(reports, report)
			waitCancel()
			return nil
		})
	}()
	<-done
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	if reports[0].OrderID != "42" || reports[0].OptionSymbol != "SPY240119C00470000" {
		t.Fatalf("report = %+v", reports[0])
	}
}
