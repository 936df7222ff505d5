package portfolio

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"gammabot/internal/bus"
	"gammabot/internal/metrics"
	"gammabot/pkg/types"
)

// Service marks the book from quotes and applies fills from the execution
// stream, publishing a fresh snapshot after each event.
type Service struct {
	bus  bus.Bus
	book *Book
	log  *slog.Logger
}

func NewService(b bus.Bus, logger *slog.Logger) *Service {
	return &Service{
		bus:  b,
		book: NewBook(),
		log:  logger.With("component", "portfolio"),
	}
}

// Run consumes quotes and execution reports until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamQuotes, bus.StartBeginning, s.onQuote)
	})
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamExecution, bus.StartBeginning, s.onExecution)
	})
	s.log.Info("portfolio started")
	return g.Wait()
}

func (s *Service) onQuote(ctx context.Context, entry bus.Entry) error {
	var quote types.Quote
	if err := json.Unmarshal(entry.Payload, &quote); err != nil {
		s.log.Warn("malformed quote", "error", err)
		return nil
	}
	s.book.MarkQuote(quote.Symbol, quote.Mid)
	return s.publish(ctx, quote.TS)
}

// fillEvent is the loose shape of the execution stream: an ExecutionReport,
// or an OrderStatus whose first fill slice stands in for the report fields.
type fillEvent struct {
	OptionSymbol string       `json:"option_symbol"`
	Symbol       string       `json:"symbol"`
	Side         types.Side   `json:"side"`
	FillPrice    *float64     `json:"fill_price"`
	FillQty      *float64     `json:"fill_qty"`
	Fills        []types.Fill `json:"fills"`
	Request      struct {
		OptionSymbol string     `json:"option_symbol"`
		Side         types.Side `json:"side"`
	} `json:"request"`
}

func (s *Service) onExecution(ctx context.Context, entry bus.Entry) error {
	var event fillEvent
	if err := json.Unmarshal(entry.Payload, &event); err != nil {
		s.log.Warn("malformed execution event", "error", err)
		return nil
	}

	symbol := event.OptionSymbol
	if symbol == "" {
		symbol = event.Symbol
	}
	side := event.Side
	price, qty := 0.0, 0.0
	switch {
	case event.FillPrice != nil && event.FillQty != nil:
		price, qty = *event.FillPrice, *event.FillQty
	case len(event.Fills) > 0:
		price, qty = event.Fills[0].Price, event.Fills[0].Qty
		if event.Request.Side != "" {
			side = event.Request.Side
		}
		if symbol == "" {
			symbol = event.Request.OptionSymbol
		}
	default:
		return nil
	}
	if symbol == "" || side == "" || qty == 0 {
		return nil
	}

	s.book.ApplyFill(symbol, side, price, int(qty))
	s.log.Debug("fill applied", "symbol", symbol, "side", side, "price", price, "qty", qty)
	return s.publish(ctx, time.Now().UnixMicro())
}

func (s *Service) publish(ctx context.Context, ts int64) error {
	snapshot := s.book.Snapshot(ts)
	metrics.TotalPnL.Set(snapshot.TotalPnL)
	if _, err := s.bus.Publish(ctx, bus.StreamPortfolio, snapshot); err != nil {
		s.log.Error("publish portfolio snapshot", "error", err)
	}
	return nil
}

// Snapshot exposes the current book for the ops API.
func (s *Service) Snapshot() types.PortfolioSnapshot {
	return s.book.Snapshot(time.Now().UnixMicro())
}
