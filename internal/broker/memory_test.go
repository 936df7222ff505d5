package broker

import (
	"context"
	"errors"
	"testing"

	"gammabot/pkg/types"
)

func TestInMemoryPlaceFillsImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	venue := NewInMemory()
	order := BuildOTOCO("SPY241011C00450000", 1, types.BUY, 1.5, 1.7, 1.3, 0.05)

	first, err := venue.Place(ctx, order)
	if err != nil {
		t.Fatal(err)
	}
	if first.OrderID != "1" || first.State != types.StateFilled {
		t.Errorf("first = %+v, want id 1 filled", first)
	}

	second, err := venue.Place(ctx, order)
	if err != nil {
		t.Fatal(err)
	}
	if second.OrderID != "2" {
		t.Errorf("second id = %q, want 2", second.OrderID)
	}
}

func TestInMemoryModifyMerges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	venue := NewInMemory()
	order := BuildOTOCO("SPY241011C00450000", 1, types.BUY, 1.5, 1.7, 1.3, 0.05)
	placed, _ := venue.Place(ctx, order)

	resp, err := venue.Modify(ctx, placed.OrderID, Changes{StopPrice: 1.25})
	if err != nil {
		t.Fatal(err)
	}
	payload, _ := resp.Raw["payload"].(map[string]any)
	if payload["stop_price"] != 1.25 {
		t.Errorf("stop_price after modify = %v, want 1.25", payload["stop_price"])
	}

	var perm *PermanentError
	if _, err := venue.Modify(ctx, "999", Changes{StopPrice: 1.0}); !errors.As(err, &perm) {
		t.Errorf("modify unknown order error = %v, want PermanentError", err)
	}
}

func TestInMemoryCancelAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	venue := NewInMemory(WithInitialState(types.StateOpen))
	order := BuildOTOCO("SPY241011C00450000", 1, types.BUY, 1.5, 1.7, 1.3, 0.05)
	placed, _ := venue.Place(ctx, order)

	if placed.State != types.StateOpen {
		t.Fatalf("initial state = %q, want open", placed.State)
	}

	cancelled, err := venue.Cancel(ctx, placed.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.State != types.StateCancelled {
		t.Errorf("cancel state = %q, want cancelled", cancelled.State)
	}

	gone, err := venue.Get(ctx, placed.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if gone.State != types.StateUnknown {
		t.Errorf("get after cancel = %q, want unknown", gone.State)
	}

	missing, err := venue.Cancel(ctx, "404")
	if err != nil {
		t.Fatal(err)
	}
	if missing.State != types.StateCancelled {
		t.Errorf("cancel missing = %q, want cancelled", missing.State)
	}
}

func TestInMemorySetStateDrivesPolling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	venue := NewInMemory(WithInitialState(types.StateOpen))
	order := BuildOTOCO("SPY241011C00450000", 1, types.BUY, 1.5, 1.7, 1.3, 0.05)
	placed, _ := venue.Place(ctx, order)

	venue.SetState(placed.OrderID, types.StateFilled, types.Fill{Price: 1.52, Qty: 1, TS: 10})

	got, err := venue.Get(ctx, placed.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != types.StateFilled {
		t.Errorf("state = %q, want filled", got.State)
	}
	if len(got.Fills) != 1 || got.Fills[0].Price != 1.52 {
		t.Errorf("fills = %+v, want one at 1.52", got.Fills)
	}
}
