// Package engine wires the trading stages to the stream fabric and runs them.
//
// The stages mirror the data path:
//
//  1. Ingest publishes quotes, second bars, and option metadata.
//  2. Features folds market data into per-second feature packets.
//  3. Signals turns packets into gated entry intents.
//  4. Risk admits intents, sizes orders, and manages position lifecycle.
//  5. The OMS works admitted orders against the venue adapter.
//  6. Portfolio, execution analytics, and the learner consume the
//     resulting fills, statuses, and reports.
//
// Every stage is a bus consumer with a Run(ctx) loop; the engine runs them
// all in one errgroup so a hard stage failure cancels the rest.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"gammabot/internal/broker"
	"gammabot/internal/bus"
	"gammabot/internal/config"
	"gammabot/internal/execution"
	"gammabot/internal/features"
	"gammabot/internal/ingest"
	"gammabot/internal/learner"
	"gammabot/internal/oms"
	"gammabot/internal/portfolio"
	"gammabot/internal/risk"
	"gammabot/internal/signals"
	"gammabot/pkg/types"
)

// stage is one named consume loop under the engine's errgroup.
type stage struct {
	name string
	run  func(context.Context) error
}

// Engine owns the stage services and their shared lifecycle.
type Engine struct {
	cfg    *config.Config
	fabric bus.Bus
	logger *slog.Logger

	ingest    *ingest.Service
	features  *features.Service
	signals   *signals.Service
	risk      *risk.Service
	oms       *oms.Service
	portfolio *portfolio.Service
	execution *execution.Service
	learner   *learner.Service

	orderAudit *oms.OrderAudit

	ctx    context.Context
	cancel context.CancelFunc

	// done closes once every stage has exited; runErr is set before that.
	done   chan struct{}
	runErr error
}

// New constructs every stage against the given fabric. The venue adapter is
// in-memory under paper mode and the Tradier HTTP client otherwise.
func New(cfg *config.Config, fabric bus.Bus, logger *slog.Logger) (*Engine, error) {
	var venue broker.Broker
	if cfg.OMS.Paper {
		venue = broker.NewInMemory()
	} else {
		venue = broker.NewTradier(cfg.Broker, logger)
	}

	var orderAudit *oms.OrderAudit
	if cfg.OMS.AuditPath != "" {
		audit, err := oms.NewOrderAudit(cfg.OMS.AuditPath, cfg.OMS.AuditRotateMB, logger)
		if err != nil {
			return nil, fmt.Errorf("order audit: %w", err)
		}
		orderAudit = audit
	}

	calendar, err := risk.LoadCalendar(cfg.Risk.CalendarPath)
	if err != nil {
		return nil, fmt.Errorf("econ calendar: %w", err)
	}

	ingestSvc, err := ingest.NewService(cfg.Ingest, fabric, logger)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	learnerSvc, err := learner.NewService(cfg.Learner, cfg.Gates, fabric, logger)
	if err != nil {
		return nil, fmt.Errorf("learner: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:    cfg,
		fabric: fabric,
		logger: logger.With("component", "engine"),

		ingest:   ingestSvc,
		features: features.NewService(fabric, features.NewEngine(cfg.Features), logger),
		signals:  signals.NewService(fabric, signals.NewEngine(cfg.Gates), logger),
		risk: risk.NewService(
			fabric,
			risk.NewManager(cfg.Risk),
			risk.SchedulerFromCalendar(calendar, cfg.Risk.EconHaltMinutesPrePost),
			risk.DefaultSessionClock(),
			logger,
		),
		oms:       oms.NewService(cfg.OMS, fabric, venue, orderAudit, logger),
		portfolio: portfolio.NewService(fabric, logger),
		execution: execution.NewService(fabric, logger),
		learner:   learnerSvc,

		orderAudit: orderAudit,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Start launches every stage goroutine. A stage returning a non-cancellation
// error cancels the rest; Done reports when all loops have exited.
func (e *Engine) Start() error {
	group, ctx := errgroup.WithContext(e.ctx)

	stages := e.stages()
	for _, st := range stages {
		group.Go(func() error {
			if err := st.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("stage failed", "stage", st.name, "error", err)
				return fmt.Errorf("%s: %w", st.name, err)
			}
			return nil
		})
	}

	go func() {
		e.runErr = group.Wait()
		close(e.done)
	}()

	e.logger.Info("engine started",
		"stages", len(stages),
		"paper", e.cfg.OMS.Paper,
		"feed", e.ingest.Mode(),
	)
	return nil
}

func (e *Engine) stages() []stage {
	return []stage{
		{"ingest", e.ingest.Run},
		{"features", e.features.Run},
		{"signals", e.signals.Run},
		{"risk", e.risk.Run},
		{"oms", e.oms.Run},
		{"portfolio", e.portfolio.Run},
		{"execution", e.execution.Run},
		{"learner", e.learner.Run},
	}
}

// Stop cancels the shared context, waits for every stage to exit, and closes
// the order audit trail.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	<-e.done

	if e.runErr != nil {
		e.logger.Error("stage exited with error", "error", e.runErr)
	}
	if e.orderAudit != nil {
		e.orderAudit.Close()
	}

	e.logger.Info("shutdown complete")
}

// Done is closed once every stage has exited, cleanly or not.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err reports why the stages stopped. Nil before Done and on clean shutdown.
func (e *Engine) Err() error {
	select {
	case <-e.done:
		return e.runErr
	default:
		return nil
	}
}

// PortfolioSnapshot returns current positions and PnL.
func (e *Engine) PortfolioSnapshot() types.PortfolioSnapshot {
	return e.portfolio.Snapshot()
}

// OpenOrders reports how many orders the OMS is still working.
func (e *Engine) OpenOrders() int { return e.oms.OpenOrders() }

// PendingIntents reports the number of live pending orders in the risk stage.
func (e *Engine) PendingIntents() int { return e.risk.PendingCount() }

// Heartbeat returns the ingest feed counters.
func (e *Engine) Heartbeat() types.HeartbeatStats { return e.ingest.Heartbeat() }

// FeedMode reports whether the live or synthetic feed drives the pipeline.
func (e *Engine) FeedMode() string { return e.ingest.Mode() }

// Quotes returns the last NBBO per tracked symbol, sorted by symbol.
func (e *Engine) Quotes() []types.Quote { return e.ingest.Book().Snapshot() }
