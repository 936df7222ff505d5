// Package oms routes admitted order requests to the broker and reports every
// state change back onto the fabric.
//
// Per order: consume risk_orders → assemble the OTOCO bracket → place →
// publish the projected OrderStatus on oms_orders → poll a live broker until
// terminal or timeout → emit a terminal OMSMetric on oms_metrics.
// risk_commands carries cancels (time stop) and modifies (partial-fill stop
// tighten) keyed by client_order_id.
package oms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gammabot/internal/broker"
	"gammabot/internal/bus"
	"gammabot/internal/config"
	"gammabot/internal/metrics"
	"gammabot/pkg/types"
)

// liveOrder tracks one working order between status observations.
type liveOrder struct {
	request types.OrderRequest
	orderID string
	state   string
	fills   int
}

// Service owns the client_order_id → broker order map and the polling tasks.
type Service struct {
	cfg    config.OMSConfig
	bus    bus.Bus
	broker broker.Broker
	audit  *OrderAudit
	log    *slog.Logger

	mu     sync.Mutex
	orders map[string]*liveOrder
}

// NewService builds the OMS. audit may be nil to disable the order trail.
func NewService(cfg config.OMSConfig, b bus.Bus, venue broker.Broker, audit *OrderAudit, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		bus:    b,
		broker: venue,
		audit:  audit,
		log:    logger.With("component", "oms"),
		orders: make(map[string]*liveOrder),
	}
}

// Run consumes order requests and commands until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamRiskOrders, bus.StartBeginning, s.onOrder)
	})
	g.Go(func() error {
		return s.bus.Consume(ctx, bus.StreamRiskCommands, bus.StartBeginning, s.onCommand)
	})
	s.log.Info("oms started", "paper", s.cfg.Paper, "use_otoco", s.cfg.UseOTOCO)
	return g.Wait()
}

func (s *Service) onOrder(ctx context.Context, entry bus.Entry) error {
	var request types.OrderRequest
	if err := json.Unmarshal(entry.Payload, &request); err != nil {
		s.log.Warn("malformed order request", "error", err)
		return nil
	}
	_, err := s.RouteOrder(ctx, request)
	return err
}

func (s *Service) onCommand(ctx context.Context, entry bus.Entry) error {
	var command types.OrderCommand
	if err := json.Unmarshal(entry.Payload, &command); err != nil {
		s.log.Warn("malformed order command", "error", err)
		return nil
	}
	return s.HandleCommand(ctx, command)
}

// RouteOrder assembles the OTOCO bracket, places it, and publishes the first
// status. A broker rejection becomes a rejected status, not an error;
// transient failures surface after the adapter's retries are exhausted.
// Non-terminal orders get a polling goroutine.
func (s *Service) RouteOrder(ctx context.Context, request types.OrderRequest) (types.OrderStatus, error) {
	if !s.cfg.UseOTOCO {
		return types.OrderStatus{}, errors.New("only otoco routing is supported")
	}
	order := broker.BuildOTOCO(
		request.OptionSymbol,
		request.Quantity,
		request.Side,
		request.EntryPrice,
		request.TargetPrice,
		request.StopPrice,
		s.cfg.DefaultLimitOffsetTicks,
	)

	resp, err := s.broker.Place(ctx, order)
	if err != nil {
		var perm *broker.PermanentError
		if errors.As(err, &perm) {
			s.log.Warn("order rejected by broker", "client_order_id", request.ClientOrderID(), "error", err)
			status := s.buildStatus(request, broker.Response{
				State: types.StateRejected,
				Raw:   map[string]any{"error": perm.Error()},
			})
			s.publishStatus(ctx, status)
			metrics.OrdersRouted.WithLabelValues(status.State).Inc()
			return status, nil
		}
		return types.OrderStatus{}, fmt.Errorf("place order: %w", err)
	}

	status := s.buildStatus(request, resp)
	clientID := request.ClientOrderID()
	s.mu.Lock()
	s.orders[clientID] = &liveOrder{
		request: request,
		orderID: resp.OrderID,
		state:   status.State,
		fills:   len(status.Fills),
	}
	s.mu.Unlock()

	s.publishStatus(ctx, status)
	metrics.OrdersRouted.WithLabelValues(status.State).Inc()
	s.log.Info("order placed",
		"client_order_id", clientID,
		"order_id", status.OrderID,
		"state", status.State)

	if !types.TerminalState(status.State) {
		go s.poll(ctx, clientID)
	}
	return status, nil
}

// HandleCommand applies a cancel or modify from the risk stage, resolving
// the broker order id from the live map when the command lacks one.
func (s *Service) HandleCommand(ctx context.Context, command types.OrderCommand) error {
	s.mu.Lock()
	live, tracked := s.orders[command.ClientOrderID]
	orderID := command.OrderID
	var request types.OrderRequest
	if tracked {
		request = live.request
		if orderID == "" {
			orderID = live.orderID
		}
	}
	s.mu.Unlock()
	if orderID == "" {
		s.log.Warn("command for unknown order",
			"client_order_id", command.ClientOrderID,
			"action", command.Action)
		return nil
	}

	var resp broker.Response
	var err error
	switch command.Action {
	case types.CommandCancel:
		resp, err = s.broker.Cancel(ctx, orderID)
	case types.CommandModify:
		resp, err = s.broker.Modify(ctx, orderID, broker.Changes{
			StopPrice:   command.StopPrice,
			TargetPrice: command.TargetPrice,
		})
	default:
		s.log.Warn("unknown command action", "action", command.Action)
		return nil
	}
	if err != nil {
		var perm *broker.PermanentError
		if errors.As(err, &perm) {
			s.log.Warn("command rejected by broker",
				"action", command.Action,
				"order_id", orderID,
				"error", err)
			return nil
		}
		return fmt.Errorf("%s order %s: %w", command.Action, orderID, err)
	}

	if resp.OrderID == "" {
		resp.OrderID = orderID
	}
	if !tracked {
		request = types.OrderRequest{Metadata: map[string]any{"client_order_id": command.ClientOrderID}}
	}
	s.mu.Lock()
	if live, ok := s.orders[command.ClientOrderID]; ok {
		live.state = resp.State
		live.fills = len(resp.Fills)
	}
	s.mu.Unlock()
	s.publishStatus(ctx, s.buildStatus(request, resp))
	return nil
}

// SyncStop trails a working stop from the underlying's latest price.
func (s *Service) SyncStop(existingStop, underlyingPrice float64, side types.Side) float64 {
	return AdjustStop(existingStop, underlyingPrice, side, s.cfg.ModifyStopOnUnderlying, s.cfg.TrailRatio)
}

// OpenOrders reports the number of tracked working orders.
func (s *Service) OpenOrders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// poll queries the broker until the order terminates or the status budget
// elapses, re-publishing every observed state or fill change.
func (s *Service) poll(ctx context.Context, clientID string) {
	interval := time.Duration(s.cfg.PollIntervalSecs * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(time.Duration(s.cfg.StatusTimeoutSecs * float64(time.Second)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		live, ok := s.orders[clientID]
		var orderID, lastState string
		var lastFills int
		var request types.OrderRequest
		if ok {
			orderID, lastState, lastFills, request = live.orderID, live.state, live.fills, live.request
		}
		s.mu.Unlock()
		if !ok {
			return // terminal state observed elsewhere
		}

		resp, err := s.broker.Get(ctx, orderID)
		if err != nil {
			s.log.Warn("status poll failed", "order_id", orderID, "error", err)
		} else {
			if resp.OrderID == "" {
				resp.OrderID = orderID
			}
			if resp.State != lastState || len(resp.Fills) != lastFills {
				s.mu.Lock()
				if live, ok := s.orders[clientID]; ok {
					live.state = resp.State
					live.fills = len(resp.Fills)
				}
				s.mu.Unlock()
				s.publishStatus(ctx, s.buildStatus(request, resp))
			}
			if types.TerminalState(resp.State) {
				return
			}
		}
		if time.Now().After(deadline) {
			s.log.Warn("status poll timed out",
				"order_id", orderID,
				"client_order_id", clientID)
			return
		}
	}
}

func (s *Service) buildStatus(request types.OrderRequest, resp broker.Response) types.OrderStatus {
	return types.OrderStatus{
		TS:            time.Now().UnixMicro(),
		OrderID:       resp.OrderID,
		State:         resp.State,
		Request:       request,
		BrokerPayload: resp.Raw,
		Fills:         resp.Fills,
	}
}

// publishStatus pushes one status onto oms_orders, mirrors it to the audit
// trail, and on terminal states emits the OMSMetric and drops the order.
func (s *Service) publishStatus(ctx context.Context, status types.OrderStatus) {
	if _, err := s.bus.Publish(ctx, bus.StreamOMSOrders, status); err != nil {
		s.log.Error("publish order status", "order_id", status.OrderID, "error", err)
	}
	if s.audit != nil {
		s.audit.Record(status)
	}
	if types.TerminalState(status.State) {
		s.finalize(ctx, status)
	}
}

func (s *Service) finalize(ctx context.Context, status types.OrderStatus) {
	clientID := status.Request.ClientOrderID()
	s.mu.Lock()
	delete(s.orders, clientID)
	s.mu.Unlock()

	metric := types.OMSMetric{
		TS:            status.TS,
		OrderID:       status.OrderID,
		ClientOrderID: clientID,
		State:         status.State,
		Side:          status.Request.Side,
		Quantity:      status.Request.Quantity,
		FilledQty:     status.FilledQty(),
		LatencyMS:     float64(status.TS-status.Request.TS) / 1000,
		AvgFillPrice:  avgFillPrice(status.Fills),
	}
	if _, err := s.bus.Publish(ctx, bus.StreamOMSMetrics, metric); err != nil {
		s.log.Error("publish oms metric", "order_id", status.OrderID, "error", err)
	}
	metrics.OrdersTerminal.WithLabelValues(status.State).Inc()
	metrics.OrderLatencyMS.Observe(metric.LatencyMS)
	s.log.Info("order terminal",
		"client_order_id", clientID,
		"order_id", status.OrderID,
		"state", status.State,
		"filled_qty", metric.FilledQty)
}

func avgFillPrice(fills []types.Fill) float64 {
	var qty, notional float64
	for _, fill := range fills {
		qty += fill.Qty
		notional += fill.Price * fill.Qty
	}
	if qty == 0 {
		return 0
	}
	return notional / qty
}
