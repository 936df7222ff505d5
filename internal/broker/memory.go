package broker

import (
	"context"
	"strconv"
	"sync"

	"gammabot/pkg/types"
)

// InMemory is the sandbox venue. Orders are assigned sequential ids and fill
// immediately by default; tests override the initial state to exercise the
// polling path.
type InMemory struct {
	mu      sync.Mutex
	counter int64
	orders  map[string]map[string]any
	initial string
}

// InMemoryOption tweaks the sandbox venue.
type InMemoryOption func(*InMemory)

// WithInitialState overrides the state newly placed orders report.
func WithInitialState(state string) InMemoryOption {
	return func(b *InMemory) { b.initial = state }
}

func NewInMemory(opts ...InMemoryOption) *InMemory {
	b := &InMemory{
		orders:  make(map[string]map[string]any),
		initial: types.StateFilled,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *InMemory) Place(_ context.Context, order OTOCO) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter++
	id := strconv.FormatInt(b.counter, 10)
	record := map[string]any{"id": id, "status": b.initial, "payload": order.Payload()}
	b.orders[id] = record
	return Project(record), nil
}

func (b *InMemory) Modify(_ context.Context, orderID string, changes Changes) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.orders[orderID]
	if !ok {
		return Response{}, &PermanentError{Status: 404, Body: "unknown order " + orderID}
	}
	payload, _ := record["payload"].(map[string]any)
	if payload == nil {
		payload = make(map[string]any)
		record["payload"] = payload
	}
	if changes.StopPrice != 0 {
		payload["stop_price"] = changes.StopPrice
	}
	if changes.TargetPrice != 0 {
		payload["target_price"] = changes.TargetPrice
	}
	return Project(record), nil
}

func (b *InMemory) Cancel(_ context.Context, orderID string) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.orders[orderID]
	if !ok {
		return Project(map[string]any{"id": orderID, "status": types.StateCancelled}), nil
	}
	delete(b.orders, orderID)
	record["status"] = types.StateCancelled
	return Project(record), nil
}

func (b *InMemory) Get(_ context.Context, orderID string) (Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.orders[orderID]
	if !ok {
		return Project(map[string]any{"id": orderID, "status": types.StateUnknown}), nil
	}
	return Project(record), nil
}

// SetState rewrites a working order's state and fills. Test hook for the
// OMS polling loop.
func (b *InMemory) SetState(orderID, state string, fills ...types.Fill) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.orders[orderID]
	if !ok {
		return
	}
	record["status"] = state
	if len(fills) > 0 {
		list := make([]any, len(fills))
		for i, fill := range fills {
			list[i] = map[string]any{"price": fill.Price, "qty": fill.Qty, "ts": float64(fill.TS)}
		}
		record["fills"] = list
	}
}
