package types

import (
	"encoding/json"
	"testing"
)

func TestSideSign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		side Side
		want float64
	}{
		{BUY, 1},
		{SELL, -1},
	}

	for _, tt := range tests {
		if got := tt.side.Sign(); got != tt.want {
			t.Errorf("Side(%q).Sign() = %v, want %v", tt.side, got, tt.want)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if got := BUY.Opposite(); got != SELL {
		t.Errorf("BUY.Opposite() = %q, want %q", got, SELL)
	}
	if got := SELL.Opposite(); got != BUY {
		t.Errorf("SELL.Opposite() = %q, want %q", got, BUY)
	}
}

func TestTerminalState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state string
		want  bool
	}{
		{StateFilled, true},
		{StateCancelled, true},
		{StateRejected, true},
		{StateOpen, false},
		{StatePartiallyFilled, false},
		{StateUnknown, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := TerminalState(tt.state); got != tt.want {
			t.Errorf("TerminalState(%q) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestQuoteUnmarshalDerivesMid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"mid omitted", `{"ts":1,"symbol":"SPY","bid":470.25,"ask":470.75}`, 470.5},
		{"mid supplied", `{"ts":1,"symbol":"SPY","bid":470.25,"ask":470.75,"mid":471.5}`, 471.5},
		{"mid explicitly zero", `{"ts":1,"symbol":"SPY","bid":470.25,"ask":470.75,"mid":0}`, 0},
	}

	for _, tt := range tests {
		var q Quote
		if err := json.Unmarshal([]byte(tt.raw), &q); err != nil {
			t.Fatalf("%s: unmarshal: %v", tt.name, err)
		}
		if q.Mid != tt.want {
			t.Errorf("%s: Mid = %v, want %v", tt.name, q.Mid, tt.want)
		}
		if q.Bid != 470.25 || q.Ask != 470.75 {
			t.Errorf("%s: bid/ask = %v/%v, want 470.25/470.75", tt.name, q.Bid, q.Ask)
		}
	}
}

func TestIsOptionSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		symbol string
		want   bool
	}{
		{"SPY240119C00470000", true},
		{"QQQ241011P00450000", true},
		{"O:SPY241011C00450000", true},
		{"SPY0000C00", true},
		{"SPY", false},
		{"QQQ", false},
		{"I:SPX", false},
		{"", false},
		{"CCCCCCCCC", false},
	}

	for _, tt := range tests {
		if got := IsOptionSymbol(tt.symbol); got != tt.want {
			t.Errorf("IsOptionSymbol(%q) = %v, want %v", tt.symbol, got, tt.want)
		}
	}
}

func TestOrderRequestClientOrderID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		metadata map[string]any
		want     string
	}{
		{"nil metadata", nil, ""},
		{"key present", map[string]any{"client_order_id": "sig-123"}, "sig-123"},
		{"key missing", map[string]any{"playbook": PlaybookORB}, ""},
		{"wrong type", map[string]any{"client_order_id": 42}, ""},
	}

	for _, tt := range tests {
		r := OrderRequest{Metadata: tt.metadata}
		if got := r.ClientOrderID(); got != tt.want {
			t.Errorf("%s: ClientOrderID() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestOrderStatusFilledQty(t *testing.T) {
	t.Parallel()

	var empty OrderStatus
	if got := empty.FilledQty(); got != 0 {
		t.Errorf("FilledQty() with no fills = %v, want 0", got)
	}

	s := OrderStatus{Fills: []Fill{{Price: 1.25, Qty: 2}, {Price: 1.30, Qty: 3}}}
	if got := s.FilledQty(); got != 5 {
		t.Errorf("FilledQty() = %v, want 5", got)
	}
}
