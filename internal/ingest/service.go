// Package ingest is the market-data edge of the pipeline. It publishes
// normalized quotes, second aggregates, and option chain metadata onto the
// fabric, sourced from Polygon WebSocket clusters when an API key is
// configured and from a built-in synthetic walk otherwise, so every
// downstream stage runs the same in both modes. A heartbeat stream reports
// per-leg message counts and staleness for liveness monitoring.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gammabot/internal/bus"
	"gammabot/internal/config"
	"gammabot/internal/metrics"
	"gammabot/pkg/types"
)

const (
	defaultHeartbeatSecs = 5
	defaultRotateSecs    = 60
	syntheticBasePrice   = 400.0
)

type legStat struct {
	count  int64
	lastTS int64 // µs of the newest event seen on this leg
}

func (st *legStat) snapshot(now time.Time) types.StreamStat {
	out := types.StreamStat{Count: st.count}
	if st.lastTS > 0 {
		age := float64(now.UnixMicro()-st.lastTS) / 1000.0
		if age < 0 {
			age = 0
		}
		out.AgeMS = &age
	}
	return out
}

// Service owns the ingest edge: vendor feeds in, canonical streams out.
type Service struct {
	cfg      config.IngestConfig
	bus      bus.Bus
	universe *UniverseManager
	chain    *ChainClient
	recorder *Recorder
	book     *QuoteBook
	log      *slog.Logger

	statsMu sync.Mutex
	stats   map[string]*legStat

	priceMu sync.Mutex
	prices  map[string]float64

	// Per-underlying contract selections and the union currently riding the
	// options socket. Rotation diffs flow to the options feed over rotations.
	optionsMu sync.Mutex
	tracked   map[string][]string
	current   map[string]struct{}
	rotations chan []string
}

// NewService builds the ingest edge. The recorder is optional and only
// created when the config names a snapshot directory.
func NewService(cfg config.IngestConfig, b bus.Bus, logger *slog.Logger) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		bus:      b,
		universe: NewUniverseManager(cfg),
		book:     NewQuoteBook(),
		log:      logger.With("component", "ingest"),
		stats: map[string]*legStat{
			"quotes":      {},
			"aggs":        {},
			"option_meta": {},
		},
		prices:    make(map[string]float64),
		tracked:   make(map[string][]string),
		current:   make(map[string]struct{}),
		rotations: make(chan []string, 1),
	}
	if cfg.PolygonAPIKey != "" {
		s.chain = NewChainClient(cfg.PolygonAPIKey)
	}
	if cfg.SnapshotPath != "" {
		recorder, err := NewRecorder(cfg.SnapshotPath, int64(cfg.SnapshotRotateMB)*1<<20)
		if err != nil {
			return nil, err
		}
		s.recorder = recorder
	}
	return s, nil
}

// Mode reports which feed drives the pipeline.
func (s *Service) Mode() string {
	if s.cfg.PolygonAPIKey != "" {
		return "live"
	}
	return "synthetic"
}

// Book exposes the latest-NBBO mirror for the ops surface.
func (s *Service) Book() *QuoteBook { return s.book }

// Run drives the edge until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.PolygonAPIKey == "" {
		s.log.Info("no polygon api key, publishing synthetic feed", "symbols", len(s.symbols()))
		return s.runSynthetic(ctx)
	}
	return s.runLive(ctx)
}

func (s *Service) runSynthetic(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeatInterval())
	defer ticker.Stop()
	for {
		ts := time.Now().UnixMicro()
		s.publishSyntheticBatch(ctx, ts)
		s.publishHeartbeat(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runLive(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.EnableStocksWS && len(s.cfg.Stocks) > 0 {
		feed := newClusterFeed("stocks", s.cfg.PolygonAPIKey, channelsFor(s.cfg.Stocks), s)
		g.Go(func() error { return feed.Run(ctx) })
	}
	if s.cfg.EnableIndicesWS && len(s.cfg.Indices) > 0 {
		feed := newClusterFeed("indices", s.cfg.PolygonAPIKey, channelsFor(s.cfg.Indices), s)
		g.Go(func() error { return feed.Run(ctx) })
	}
	if s.cfg.EnableOptionsWS {
		feed := newOptionsFeed(s.cfg.PolygonAPIKey, s.rotations, s)
		g.Go(func() error { return feed.Run(ctx) })
	}
	g.Go(func() error { return s.chainLoop(ctx) })
	g.Go(func() error { return s.heartbeatLoop(ctx) })

	s.log.Info("live ingest started",
		"stocks", len(s.cfg.Stocks),
		"indices", len(s.cfg.Indices),
		"options_ws", s.cfg.EnableOptionsWS,
	)
	return g.Wait()
}

func (s *Service) symbols() []string {
	out := make([]string, 0, len(s.cfg.Stocks)+len(s.cfg.Indices))
	out = append(out, s.cfg.Stocks...)
	out = append(out, s.cfg.Indices...)
	return out
}

func (s *Service) heartbeatInterval() time.Duration {
	secs := s.cfg.HeartbeatSecs
	if secs < 1 {
		secs = defaultHeartbeatSecs
	}
	return time.Duration(secs) * time.Second
}

// ————— synthetic feed —————

func (s *Service) publishSyntheticBatch(ctx context.Context, ts int64) {
	for _, symbol := range s.symbols() {
		price := s.stepPrice(symbol)
		bid := round2(price - 0.05)
		ask := round2(price + 0.05)
		s.publishQuote(ctx, types.Quote{
			TS:        ts,
			Symbol:    symbol,
			Bid:       bid,
			Ask:       ask,
			Mid:       round2((bid + ask) / 2),
			BidSize:   100,
			AskSize:   100,
			NBBOAgeMS: 10,
		})
		s.publishAgg(ctx, types.Agg1s{
			TS:     ts,
			Symbol: symbol,
			O:      price,
			H:      price + 0.2,
			L:      price - 0.2,
			C:      price,
			V:      150_000,
		})
		s.publishOption(ctx, types.OptionMeta{
			TS:         ts,
			Underlying: symbol,
			Symbol:     symbol + "0000C00",
			Strike:     price,
			Type:       "C",
			Exp:        time.Now().UTC().Format("2006-01-02"),
			IV:         0.22,
			Delta:      0.5,
			Gamma:      0.1,
			Vega:       0.05,
			Theta:      -0.12,
			OI:         25_000,
			PrevOI:     24_500,
		})
	}
}

// stepPrice advances the synthetic walk for symbol, floored at 1.0.
func (s *Service) stepPrice(symbol string) float64 {
	s.priceMu.Lock()
	defer s.priceMu.Unlock()
	base, ok := s.prices[symbol]
	if !ok {
		base = syntheticBasePrice
	}
	jitter := math.Sin(float64(time.Now().UnixNano())/1e9)*0.2 + (rand.Float64()-0.5)*0.2
	base = math.Max(base+jitter, 1.0)
	s.prices[symbol] = base
	return round2(base)
}

// ————— publication + stats —————

func (s *Service) publishQuote(ctx context.Context, quote types.Quote) {
	s.book.Apply(quote)
	if _, err := s.bus.Publish(ctx, bus.StreamQuotes, quote); err != nil {
		s.log.Warn("publish quote failed", "symbol", quote.Symbol, "error", err)
		return
	}
	metrics.IngestEvents.WithLabelValues(bus.StreamQuotes).Inc()
	s.record("quotes", quote.TS)
}

func (s *Service) publishAgg(ctx context.Context, agg types.Agg1s) {
	if _, err := s.bus.Publish(ctx, bus.StreamAggs, agg); err != nil {
		s.log.Warn("publish agg failed", "symbol", agg.Symbol, "error", err)
		return
	}
	metrics.IngestEvents.WithLabelValues(bus.StreamAggs).Inc()
	s.record("aggs", agg.TS)
}

func (s *Service) publishOption(ctx context.Context, meta types.OptionMeta) {
	if _, err := s.bus.Publish(ctx, bus.StreamOptionMeta, meta); err != nil {
		s.log.Warn("publish option meta failed", "symbol", meta.Symbol, "error", err)
		return
	}
	metrics.IngestEvents.WithLabelValues(bus.StreamOptionMeta).Inc()
	s.record("option_meta", meta.TS)
}

func (s *Service) record(leg string, ts int64) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats[leg]
	st.count++
	if ts > st.lastTS {
		st.lastTS = ts
	}
}

func (s *Service) recordSnapshot(raw []byte) {
	if s.recorder == nil || len(raw) == 0 {
		return
	}
	if err := s.recorder.Write(raw); err != nil {
		s.log.Warn("snapshot record failed", "error", err)
	}
}

// ————— heartbeat —————

// Heartbeat reports per-leg counts and the age of the newest event. Legs
// that have not seen traffic carry a nil age.
func (s *Service) Heartbeat() types.HeartbeatStats {
	now := time.Now()
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return types.HeartbeatStats{
		TS:         now.UnixMicro(),
		Mode:       s.Mode(),
		Quotes:     s.stats["quotes"].snapshot(now),
		Aggs:       s.stats["aggs"].snapshot(now),
		OptionMeta: s.stats["option_meta"].snapshot(now),
	}
}

func (s *Service) publishHeartbeat(ctx context.Context) {
	if _, err := s.bus.Publish(ctx, bus.StreamHeartbeat, s.Heartbeat()); err != nil {
		s.log.Warn("publish heartbeat failed", "error", err)
		return
	}
	metrics.IngestEvents.WithLabelValues(bus.StreamHeartbeat).Inc()
}

func (s *Service) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeatInterval())
	defer ticker.Stop()
	for {
		s.publishHeartbeat(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ————— option chain rotation —————

func (s *Service) chainLoop(ctx context.Context) error {
	if s.chain == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	interval := time.Duration(s.cfg.OptionRotateSecs) * time.Second
	if interval <= 0 {
		interval = defaultRotateSecs * time.Second
	}
	for {
		s.snapshotChains(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Service) snapshotChains(ctx context.Context) {
	ts := time.Now().UnixMicro()
	for _, underlying := range s.symbols() {
		chain, err := s.chain.FetchChain(ctx, underlying, s.cfg.DTEMin, s.cfg.DTEMax, s.cfg.MaxContracts)
		if err != nil {
			s.log.Warn("chain snapshot failed", "underlying", underlying, "error", err)
			continue
		}
		for _, meta := range chain {
			s.publishOption(ctx, meta)
		}
		contracts := s.universe.Rotate(underlying, chain, ts)
		if err := s.updateOptionUniverse(underlying, contracts); err != nil {
			s.log.Warn("universe update rejected", "underlying", underlying, "error", err)
		}
	}
}

// updateOptionUniverse stores the per-underlying selection and, when the
// union across underlyings changed, hands the new contract set to the
// options feed. The union may never exceed the per-connection budget.
func (s *Service) updateOptionUniverse(underlying string, contracts []string) error {
	s.optionsMu.Lock()
	defer s.optionsMu.Unlock()

	deduped := make([]string, 0, len(contracts))
	seen := make(map[string]struct{}, len(contracts))
	for _, c := range contracts {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		deduped = append(deduped, c)
	}
	s.tracked[underlying] = deduped

	if !s.cfg.EnableOptionsWS {
		return nil
	}
	union := make(map[string]struct{})
	for _, list := range s.tracked {
		for _, c := range list {
			union[c] = struct{}{}
		}
	}
	if s.cfg.MaxContracts > 0 && len(union) > s.cfg.MaxContracts {
		return fmt.Errorf("option universe %d exceeds websocket capacity %d", len(union), s.cfg.MaxContracts)
	}
	if setsEqual(union, s.current) {
		return nil
	}
	s.current = union
	list := make([]string, 0, len(union))
	for c := range union {
		list = append(list, c)
	}
	sort.Strings(list)
	select {
	case s.rotations <- list:
	default:
		// Stale rotation still queued; replace it.
		select {
		case <-s.rotations:
		default:
		}
		s.rotations <- list
	}
	return nil
}

// TrackedContracts returns the current selection for one underlying.
func (s *Service) TrackedContracts(underlying string) []string {
	s.optionsMu.Lock()
	defer s.optionsMu.Unlock()
	return append([]string(nil), s.tracked[underlying]...)
}

// ————— capture replay —————

// ReplayMessages pushes recorded vendor payloads through the normal
// normalization path, as if they had arrived on a socket.
func (s *Service) ReplayMessages(ctx context.Context, messages [][]byte) {
	for _, msg := range messages {
		s.handleVendorMessage(ctx, msg)
	}
}

// ReplaySnapshotFile replays one JSONL capture produced by the Recorder.
func (s *Service) ReplaySnapshotFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.handleVendorMessage(ctx, []byte(line))
	}
	return nil
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
