package broker

import (
	"log/slog"
	"os"
	"testing"

	"gammabot/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestProject(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		raw       map[string]any
		wantID    string
		wantState string
		wantFills int
	}{
		{
			name:      "nested order with numeric id",
			raw:       map[string]any{"order": map[string]any{"id": float64(257459), "status": "ok"}},
			wantID:    "257459",
			wantState: types.StateOpen,
		},
		{
			name:      "top level string id",
			raw:       map[string]any{"id": "7", "status": "filled"},
			wantID:    "7",
			wantState: types.StateFilled,
		},
		{
			name: "executions array",
			raw: map[string]any{
				"id":     "9",
				"status": "partially_filled",
				"executions": []any{
					map[string]any{"price": 1.52, "qty": 1.0, "ts": float64(10)},
				},
			},
			wantID:    "9",
			wantState: types.StatePartiallyFilled,
			wantFills: 1,
		},
		{
			name: "fills array with quantity key",
			raw: map[string]any{
				"id":     "9",
				"status": "filled",
				"fills": []any{
					map[string]any{"price": 1.52, "quantity": 2.0},
					map[string]any{"price": 1.53, "quantity": 1.0},
				},
			},
			wantID:    "9",
			wantState: types.StateFilled,
			wantFills: 2,
		},
		{
			name:      "venue spelling of cancelled",
			raw:       map[string]any{"id": "3", "status": "canceled"},
			wantID:    "3",
			wantState: types.StateCancelled,
		},
		{
			name:      "empty reply",
			raw:       map[string]any{},
			wantID:    "",
			wantState: types.StateUnknown,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Project(tc.raw)
			if got.OrderID != tc.wantID {
				t.Errorf("OrderID = %q, want %q", got.OrderID, tc.wantID)
			}
			if got.State != tc.wantState {
				t.Errorf("State = %q, want %q", got.State, tc.wantState)
			}
			if len(got.Fills) != tc.wantFills {
				t.Errorf("fills = %d, want %d", len(got.Fills), tc.wantFills)
			}
		})
	}
}

func TestProjectFillQuantities(t *testing.T) {
	t.Parallel()
	raw := map[string]any{
		"id":     "5",
		"status": "filled",
		"executions": []any{
			map[string]any{"price": 1.50, "qty": 1.0, "ts": float64(1_700_000_000_000_000)},
		},
	}
	got := Project(raw)
	if len(got.Fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(got.Fills))
	}
	fill := got.Fills[0]
	if fill.Price != 1.50 || fill.Qty != 1 || fill.TS != 1_700_000_000_000_000 {
		t.Errorf("fill = %+v, want price 1.50 qty 1", fill)
	}
}
