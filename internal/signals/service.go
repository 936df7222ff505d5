package signals

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"gammabot/internal/bus"
	"gammabot/internal/metrics"
	"gammabot/pkg/types"
)

// Service consumes feature packets and learner adjustments and publishes
// admitted intents to the signals stream.
type Service struct {
	bus    bus.Bus
	engine *Engine
	log    *slog.Logger

	mu          sync.RWMutex
	adjustments map[string]types.AdjustmentPacket
}

func NewService(b bus.Bus, engine *Engine, logger *slog.Logger) *Service {
	return &Service{
		bus:         b,
		engine:      engine,
		log:         logger.With("component", "signals"),
		adjustments: make(map[string]types.AdjustmentPacket),
	}
}

// Run consumes features and learner_adj until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamLearnerAdj, bus.StartBeginning, s.onAdjustment)
	})
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamFeatures, bus.StartBeginning, s.onFeatures)
	})

	s.log.Info("signal service started")
	return g.Wait()
}

func (s *Service) onAdjustment(ctx context.Context, entry bus.Entry) error {
	var adj types.AdjustmentPacket
	if err := json.Unmarshal(entry.Payload, &adj); err != nil {
		s.log.Warn("malformed adjustment", "error", err)
		return nil
	}
	s.mu.Lock()
	s.adjustments[adj.Symbol] = adj
	s.mu.Unlock()
	return nil
}

func (s *Service) onFeatures(ctx context.Context, entry bus.Entry) error {
	var packet types.FeaturePacket
	if err := json.Unmarshal(entry.Payload, &packet); err != nil {
		s.log.Warn("malformed feature packet", "error", err)
		return nil
	}

	s.mu.RLock()
	adj, ok := s.adjustments[packet.Symbol]
	s.mu.RUnlock()
	var adjPtr *types.AdjustmentPacket
	if ok {
		adjPtr = &adj
	}

	intent, admitted := s.engine.Evaluate(packet, adjPtr)
	if !admitted {
		return nil
	}
	if _, err := s.bus.Publish(ctx, bus.StreamSignals, intent); err != nil {
		s.log.Error("publish signal", "symbol", packet.Symbol, "error", err)
		return nil
	}
	metrics.SignalsEmitted.WithLabelValues(intent.Playbook).Inc()
	s.log.Debug("signal emitted",
		"symbol", intent.Underlying,
		"playbook", intent.Playbook,
		"side", intent.Side,
		"size_multiplier", intent.SizeMultiplier)
	return nil
}
