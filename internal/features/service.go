package features

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"gammabot/internal/bus"
	"gammabot/pkg/types"
)

// Service wires the Engine to the stream fabric: quotes, aggs, and option
// meta flow in; one FeaturePacket per aggregate bar flows out.
type Service struct {
	bus    bus.Bus
	engine *Engine
	log    *slog.Logger
}

func NewService(b bus.Bus, engine *Engine, logger *slog.Logger) *Service {
	return &Service{
		bus:    b,
		engine: engine,
		log:    logger.With("component", "features"),
	}
}

// Run consumes the three input streams until ctx is cancelled. Each stream
// runs on its own goroutine; the engine serializes state access internally.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamQuotes, bus.StartBeginning, s.onQuote)
	})
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamOptionMeta, bus.StartBeginning, s.onOptionMeta)
	})
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamAggs, bus.StartBeginning, s.onAgg)
	})

	s.log.Info("feature service started")
	return g.Wait()
}

func (s *Service) onQuote(ctx context.Context, entry bus.Entry) error {
	var quote types.Quote
	if err := json.Unmarshal(entry.Payload, &quote); err != nil {
		s.log.Warn("malformed quote", "error", err)
		return nil
	}
	s.engine.UpdateQuote(quote)
	return nil
}

func (s *Service) onOptionMeta(ctx context.Context, entry bus.Entry) error {
	var meta types.OptionMeta
	if err := json.Unmarshal(entry.Payload, &meta); err != nil {
		s.log.Warn("malformed option meta", "error", err)
		return nil
	}
	s.engine.UpdateOption(meta)
	return nil
}

func (s *Service) onAgg(ctx context.Context, entry bus.Entry) error {
	var bar types.Agg1s
	if err := json.Unmarshal(entry.Payload, &bar); err != nil {
		s.log.Warn("malformed agg", "error", err)
		return nil
	}
	packet := s.engine.Compute(bar.Symbol, bar, true)
	if _, err := s.bus.Publish(ctx, bus.StreamFeatures, packet); err != nil {
		s.log.Error("publish features", "symbol", bar.Symbol, "error", err)
	}
	return nil
}
