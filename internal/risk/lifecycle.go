package risk

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gammabot/internal/bus"
	"gammabot/pkg/types"
)

// pendingOrder is the per-order lifecycle record. acked closes exactly once,
// on the first status carrying a broker order id; the time-stop countdown is
// gated on it.
type pendingOrder struct {
	request  types.OrderRequest
	orderID  string
	adjusted bool
	acked    chan struct{}
	stop     context.CancelFunc
}

// Service admits signals, publishes order requests, and manages pending
// orders: time-stop cancels, one-shot partial-fill stop tightening, terminal
// cleanup.
type Service struct {
	bus       bus.Bus
	manager   *Manager
	scheduler *Scheduler
	clock     SessionClock
	log       *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingOrder
}

func NewService(b bus.Bus, manager *Manager, scheduler *Scheduler, clock SessionClock, logger *slog.Logger) *Service {
	return &Service{
		bus:       b,
		manager:   manager,
		scheduler: scheduler,
		clock:     clock,
		log:       logger.With("component", "risk"),
		pending:   make(map[string]*pendingOrder),
	}
}

// Run anchors the session start and consumes signals and order statuses
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.manager.SetSessionStart(time.Now().UnixMicro())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamSignals, bus.StartBeginning, s.onSignal)
	})
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamOMSOrders, bus.StartBeginning, s.onStatus)
	})

	s.log.Info("risk service started")
	return g.Wait()
}

func (s *Service) onSignal(ctx context.Context, entry bus.Entry) error {
	var signal types.SignalIntent
	if err := json.Unmarshal(entry.Payload, &signal); err != nil {
		s.log.Warn("malformed signal", "error", err)
		return nil
	}
	_, err := s.SubmitSignal(ctx, signal)
	return err
}

func (s *Service) onStatus(ctx context.Context, entry bus.Entry) error {
	var status types.OrderStatus
	if err := json.Unmarshal(entry.Payload, &status); err != nil {
		s.log.Warn("malformed order status", "error", err)
		return nil
	}
	return s.ProcessStatus(ctx, status)
}

// SubmitSignal runs admission and, on pass, publishes an OrderRequest on
// risk_orders and registers the pending order. Rejection returns (nil, nil):
// risk rejection is a silent skip, not an error.
func (s *Service) SubmitSignal(ctx context.Context, signal types.SignalIntent) (*types.OrderRequest, error) {
	now := time.UnixMicro(signal.TS).UTC()
	if s.scheduler.IsHalted(now) {
		s.log.Debug("entry halted by econ window", "underlying", signal.Underlying)
		return nil, nil
	}
	if !s.manager.EntryAllowed(signal.TS, s.clock.MinutesToOpen(signal.TS), s.clock.MinutesToClose(signal.TS)) {
		s.log.Debug("entry blocked by risk checks", "underlying", signal.Underlying)
		return nil, nil
	}

	clientID := uuid.NewString()
	request := types.OrderRequest{
		TS:           signal.TS,
		Underlying:   signal.Underlying,
		OptionSymbol: signal.Underlying,
		Side:         signal.Side,
		Quantity:     1, // TODO: integrate learner sizing and risk budget
		TargetPrice:  signal.TargetUnderlyingMove,
		StopPrice:    signal.StopUnderlyingMove,
		TimeStopSecs: signal.TimeStopSecs,
		Metadata: map[string]any{
			"client_order_id": clientID,
			"playbook":        signal.Playbook,
			"size_multiplier": signal.SizeMultiplier,
		},
	}
	if _, err := s.bus.Publish(ctx, bus.StreamRiskOrders, request); err != nil {
		return nil, err
	}

	timerCtx, cancel := context.WithCancel(ctx)
	po := &pendingOrder{
		request: request,
		acked:   make(chan struct{}),
		stop:    cancel,
	}
	s.mu.Lock()
	s.pending[clientID] = po
	s.mu.Unlock()
	go s.timeStop(timerCtx, clientID, po)

	s.log.Info("order submitted",
		"client_order_id", clientID,
		"underlying", signal.Underlying,
		"playbook", signal.Playbook,
		"side", signal.Side)
	return &request, nil
}

// timeStop waits for the broker ack, then for the order's time budget, then
// issues a cancel if the order is still pending.
func (s *Service) timeStop(ctx context.Context, clientID string, po *pendingOrder) {
	select {
	case <-ctx.Done():
		return
	case <-po.acked:
	}

	timer := time.NewTimer(time.Duration(po.request.TimeStopSecs) * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.mu.Lock()
	_, live := s.pending[clientID]
	orderID := po.orderID
	s.mu.Unlock()
	if !live {
		return
	}

	command := types.OrderCommand{
		Action:        types.CommandCancel,
		ClientOrderID: clientID,
		OrderID:       orderID,
	}
	if _, err := s.bus.Publish(ctx, bus.StreamRiskCommands, command); err != nil {
		s.log.Error("publish time-stop cancel", "client_order_id", clientID, "error", err)
		return
	}
	s.log.Info("time stop expired, cancel issued", "client_order_id", clientID, "order_id", orderID)
}

// ProcessStatus advances the lifecycle for the referenced pending order:
// first order id arms the time-stop, a partial fill emits the one-shot stop
// tighten, a terminal state drops the entry and cancels the timer.
func (s *Service) ProcessStatus(ctx context.Context, status types.OrderStatus) error {
	clientID := status.Request.ClientOrderID()
	if clientID == "" {
		return nil
	}

	s.mu.Lock()
	po, ok := s.pending[clientID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if status.OrderID != "" && po.orderID == "" {
		po.orderID = status.OrderID
		close(po.acked)
	}

	var modify *types.OrderCommand
	filled := status.FilledQty()
	if !po.adjusted && filled > 0 && filled < float64(po.request.Quantity) {
		po.adjusted = true
		modify = &types.OrderCommand{
			Action:        types.CommandModify,
			ClientOrderID: clientID,
			OrderID:       po.orderID,
			StopPrice:     tightenStop(po.request),
		}
	}

	terminal := types.TerminalState(status.State)
	if terminal {
		po.stop()
		delete(s.pending, clientID)
	}
	s.mu.Unlock()

	if modify != nil {
		if _, err := s.bus.Publish(ctx, bus.StreamRiskCommands, modify); err != nil {
			s.log.Error("publish partial-fill modify", "client_order_id", clientID, "error", err)
			return err
		}
		s.log.Info("partial fill, stop tightened",
			"client_order_id", clientID,
			"filled_qty", filled,
			"stop_price", modify.StopPrice)
	}
	if terminal {
		if status.State == types.StateFilled {
			s.manager.RegisterPosition(1)
		}
		s.log.Info("order terminal",
			"client_order_id", clientID,
			"state", status.State)
	}
	return nil
}

// tightenStop moves the stop toward the entry after a partial fill. Buys
// floor at a cent; sells never drop below entry plus a nickel.
func tightenStop(request types.OrderRequest) float64 {
	if request.Side == types.BUY {
		stop := request.StopPrice
		if request.EntryPrice < stop {
			stop = request.EntryPrice
		}
		stop -= 0.05
		if stop < 0.01 {
			stop = 0.01
		}
		return stop
	}
	stop := request.StopPrice
	if floor := request.EntryPrice + 0.05; floor > stop {
		stop = floor
	}
	return stop
}

// PendingCount reports the number of live pending orders.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
