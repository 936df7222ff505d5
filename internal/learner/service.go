package learner

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"gammabot/internal/bus"
	"gammabot/internal/config"
	"gammabot/pkg/types"
)

// Service folds calibration, bandit weights, and the change-point detector
// into one adjustment packet per feature. Signals consume the packets to
// overlay pot/adx thresholds, risk sizing, and playbook weights; terminal
// order statuses feed the bandit rewards.
type Service struct {
	cfg   config.LearnerConfig
	gates config.GateConfig
	bus   bus.Bus
	log   *slog.Logger

	bandit *ContextualBandit
	change *ChangePoint
	meta   MetaLabeler

	mu          sync.Mutex
	calibration Calibration
	context     map[string]map[string]float64 // symbol -> latest bandit context
}

// NewService loads the calibration document (missing file starts
// uncalibrated) and seeds the bandit with flat arms.
func NewService(cfg config.LearnerConfig, gates config.GateConfig, b bus.Bus, logger *slog.Logger) (*Service, error) {
	cal, err := LoadCalibration(cfg.CalibrationPath)
	if err != nil {
		return nil, err
	}
	log := logger.With("component", "learner")
	if len(cal.Symbols) > 0 || cal.RiskMultiplier != 0 {
		log.Info("calibration loaded",
			"path", cfg.CalibrationPath,
			"symbols", len(cal.Symbols),
			"generated_at", cal.GeneratedAt)
	}
	return &Service{
		cfg:         cfg,
		gates:       gates,
		bus:         b,
		log:         log,
		bandit:      NewContextualBandit(types.Playbooks),
		change:      NewChangePoint(cfg.ChangepointWindow, cfg.ChangepointZ),
		meta:        NewLogistic(),
		calibration: cal,
		context:     make(map[string]map[string]float64),
	}, nil
}

// Run consumes features, signals, and order statuses until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamFeatures, bus.StartBeginning, s.onFeature)
	})
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamSignals, bus.StartBeginning, s.onSignal)
	})
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamOMSOrders, bus.StartBeginning, s.onOrderStatus)
	})
	s.log.Info("learner started",
		"changepoint_window", s.cfg.ChangepointWindow,
		"changepoint_threshold", s.cfg.ChangepointZ)
	return g.Wait()
}

func (s *Service) onFeature(ctx context.Context, entry bus.Entry) error {
	var packet types.FeaturePacket
	if err := json.Unmarshal(entry.Payload, &packet); err != nil {
		s.log.Warn("malformed feature packet", "error", err)
		return nil
	}
	adj := s.Adjust(packet)
	if _, err := s.bus.Publish(ctx, bus.StreamLearnerAdj, adj); err != nil {
		s.log.Error("publish adjustment", "symbol", packet.Symbol, "error", err)
	}
	return nil
}

// onSignal keeps a per-symbol context vector so SelectPlaybook draws with
// the live regime rather than a stale one.
func (s *Service) onSignal(ctx context.Context, entry bus.Entry) error {
	var intent types.SignalIntent
	if err := json.Unmarshal(entry.Payload, &intent); err != nil {
		s.log.Warn("malformed signal", "error", err)
		return nil
	}
	s.mu.Lock()
	s.context[intent.Underlying] = map[string]float64{
		"side":            intent.Side.Sign(),
		"size_multiplier": intent.SizeMultiplier,
	}
	s.mu.Unlock()
	return nil
}

func (s *Service) onOrderStatus(ctx context.Context, entry bus.Entry) error {
	var status types.OrderStatus
	if err := json.Unmarshal(entry.Payload, &status); err != nil {
		s.log.Warn("malformed order status", "error", err)
		return nil
	}
	playbook, _ := status.Request.Metadata["playbook"].(string)
	if playbook == "" {
		return nil
	}
	switch status.State {
	case types.StateFilled:
		s.bandit.Update(playbook, s.cfg.RewardFilled)
	case types.StateCancelled:
		s.bandit.Update(playbook, s.cfg.RewardCancelled)
	default:
		return nil
	}
	s.log.Debug("reward applied", "playbook", playbook, "state", status.State)
	return nil
}

// Adjust computes the adjustment packet for one feature. A change-point on
// spread quality forces the risk multiplier to 0.8; otherwise the calibrated
// base is scaled down as vol-of-vol rises. The pot threshold relaxes with a
// stronger regime, clamped to [0.4, 0.7].
func (s *Service) Adjust(packet types.FeaturePacket) types.AdjustmentPacket {
	s.mu.Lock()
	params := s.calibration.ParamsFor(packet.Symbol)
	s.mu.Unlock()

	basePot := params.PotThreshold
	if basePot == 0 {
		basePot = s.gates.PotThreshold
	}
	baseADX := params.ADXThreshold
	if baseADX == 0 {
		baseADX = s.gates.ADXThreshold
	}
	baseRisk := params.RiskMultiplier
	if baseRisk == 0 {
		baseRisk = s.cfg.BaseRiskMultiplier
	}
	if baseRisk == 0 {
		baseRisk = 1.0
	}

	shifted := s.change.Update(packet.Micro.SpreadPct)
	risk := baseRisk * clamp(1/(1+5*packet.VolOfVol), 0.5, 1.5)
	if shifted {
		risk = 0.8
		s.log.Warn("change point detected", "symbol", packet.Symbol, "spread_pct", packet.Micro.SpreadPct)
	}

	regime := regimeScore(packet, baseADX)
	pot := clamp(basePot+math.Min(0.2, regime*0.1), 0.4, 0.7)

	return types.AdjustmentPacket{
		TS:              packet.TS,
		Symbol:          packet.Symbol,
		RiskMultiplier:  risk,
		PotThreshold:    pot,
		ADXThreshold:    baseADX,
		PlaybookWeights: s.bandit.Weights(),
	}
}

// SelectPlaybook draws from the bandit using the symbol's last seen context.
func (s *Service) SelectPlaybook(symbol string) string {
	s.mu.Lock()
	ctx := s.context[symbol]
	s.mu.Unlock()
	return s.bandit.Select(ctx)
}

// Reward updates one arm directly. Exposed for the backtest harness.
func (s *Service) Reward(playbook string, reward float64) {
	s.bandit.Update(playbook, reward)
}

// Weights mirrors the bandit's current playbook weights.
func (s *Service) Weights() map[string]float64 {
	return s.bandit.Weights()
}

// DetectChange feeds one observation to the change-point detector.
func (s *Service) DetectChange(value float64) bool {
	return s.change.Update(value)
}

// LabelTrade applies triple-barrier labeling to a price path.
func (s *Service) LabelTrade(path []float64, entry, up, down float64, steps int) int {
	return TripleBarrierLabel(path, entry, up, down, steps)
}

// MetaLabeler exposes the unfit classifier for offline training flows.
func (s *Service) MetaLabeler() MetaLabeler {
	return s.meta
}

// SaveCalibration persists the in-memory document back to the configured
// path.
func (s *Service) SaveCalibration() error {
	s.mu.Lock()
	cal := s.calibration
	s.mu.Unlock()
	return SaveCalibration(s.cfg.CalibrationPath, cal)
}

// regimeScore mirrors the context gate's blend: clamped slope vote plus an
// ADX vote, halved.
func regimeScore(packet types.FeaturePacket, adxThreshold float64) float64 {
	trend := clamp(packet.VWAPSlope*1000, -1, 1)
	adxVote := -1.0
	if packet.ADX3m >= adxThreshold {
		adxVote = 1.0
	}
	return 0.5 * (trend + adxVote)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
