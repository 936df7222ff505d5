// Package execution grades fills against the quotes that prevailed when the
// order was placed: slippage versus the option mid, request-to-fill latency,
// and the realized risk/reward geometry of the bracket.
package execution

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"gammabot/internal/bus"
	"gammabot/pkg/types"
)

// Analytics keeps the last quote per symbol, split into option and
// underlying books, and turns filled order statuses into reports.
type Analytics struct {
	mu          sync.RWMutex
	options     map[string]types.Quote
	underlyings map[string]types.Quote
}

func NewAnalytics() *Analytics {
	return &Analytics{
		options:     make(map[string]types.Quote),
		underlyings: make(map[string]types.Quote),
	}
}

// UpdateQuote files the quote under the option or underlying book.
func (a *Analytics) UpdateQuote(quote types.Quote) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if types.IsOptionSymbol(quote.Symbol) {
		a.options[quote.Symbol] = quote
	} else {
		a.underlyings[quote.Symbol] = quote
	}
}

// BuildReport grades one order status. Only filled orders produce a report;
// everything else returns nil. Missing fill slices fall back to the request's
// entry price and quantity.
func (a *Analytics) BuildReport(status types.OrderStatus) *types.ExecutionReport {
	if !strings.EqualFold(status.State, types.StateFilled) {
		return nil
	}
	request := status.Request

	fillPrice := request.EntryPrice
	fillQty := request.Quantity
	fillTS := status.TS
	if len(status.Fills) > 0 {
		first := status.Fills[0]
		fillPrice = first.Price
		fillQty = int(first.Qty)
		if first.TS != 0 {
			fillTS = first.TS
		}
	}

	a.mu.RLock()
	optionQuote, hasOption := a.options[request.OptionSymbol]
	underlyingQuote, hasUnderlying := a.underlyings[request.Underlying]
	a.mu.RUnlock()

	report := &types.ExecutionReport{
		TS:           status.TS,
		OrderID:      status.OrderID,
		Underlying:   request.Underlying,
		OptionSymbol: request.OptionSymbol,
		Side:         request.Side,
		FillPrice:    fillPrice,
		FillQty:      fillQty,
		FillTS:       fillTS,
		Metadata:     request.Metadata,
	}
	if hasOption {
		mid := optionQuote.Mid
		report.OptionMid = &mid
		if mid > 0 {
			bps := (fillPrice - mid) / mid * 10_000
			report.SlippageBps = &bps
		}
	}
	if hasUnderlying {
		mid := underlyingQuote.Mid
		report.UnderlyingMid = &mid
	}

	requestTS := request.TS
	if requestTS == 0 {
		requestTS = status.TS
	}
	report.LatencyMS = math.Max(float64(fillTS-requestTS)/1000, 0)

	targetPrice := request.TargetPrice
	if targetPrice == 0 {
		targetPrice = fillPrice
	}
	stopPrice := request.StopPrice
	if stopPrice == 0 {
		stopPrice = fillPrice
	}
	var reward, risk float64
	if request.Side == types.SELL {
		reward = fillPrice - targetPrice
		risk = stopPrice - fillPrice
	} else {
		reward = targetPrice - fillPrice
		risk = fillPrice - stopPrice
	}
	if math.Abs(risk) > 1e-9 {
		rr := reward / math.Abs(risk)
		report.RiskReward = &rr
	}
	return report
}

// Service wires the analytics into the fabric: quotes maintain the books,
// filled statuses emit reports on the execution stream.
type Service struct {
	bus       bus.Bus
	analytics *Analytics
	log       *slog.Logger
}

func NewService(b bus.Bus, logger *slog.Logger) *Service {
	return &Service{
		bus:       b,
		analytics: NewAnalytics(),
		log:       logger.With("component", "execution"),
	}
}

// Run consumes quotes and order statuses until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamQuotes, bus.StartBeginning, s.onQuote)
	})
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamOMSOrders, bus.StartBeginning, s.onOrderStatus)
	})
	s.log.Info("execution analytics started")
	return g.Wait()
}

func (s *Service) onQuote(ctx context.Context, entry bus.Entry) error {
	var quote types.Quote
	if err := json.Unmarshal(entry.Payload, &quote); err != nil {
		s.log.Warn("malformed quote", "error", err)
		return nil
	}
	s.analytics.UpdateQuote(quote)
	return nil
}

func (s *Service) onOrderStatus(ctx context.Context, entry bus.Entry) error {
	var status types.OrderStatus
	if err := json.Unmarshal(entry.Payload, &status); err != nil {
		s.log.Warn("malformed order status", "error", err)
		return nil
	}
	report := s.analytics.BuildReport(status)
	if report == nil {
		return nil
	}
	if _, err := s.bus.Publish(ctx, bus.StreamExecution, report); err != nil {
		s.log.Error("publish execution report", "order_id", status.OrderID, "error", err)
		return nil
	}
	s.log.Debug("execution report",
		"order_id", report.OrderID,
		"option_symbol", report.OptionSymbol,
		"latency_ms", report.LatencyMS)
	return nil
}
