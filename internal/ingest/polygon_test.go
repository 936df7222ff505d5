package ingest

import (
	"reflect"
	"testing"
)

func TestQuoteFromVendor(t *testing.T) {
	t.Parallel()

	entry := map[string]any{
		"ev":  "Q",
		"sym": "SPY",
		"bp":  431.10,
		"ap":  431.16,
		"bs":  300.0,
		"as":  200.0,
		"t":   float64(1_700_000_000_123), // milliseconds
	}
	quote, ok := quoteFromVendor(entry)
	if !ok {
		t.Fatal("quote dropped, want normalized")
	}
	if quote.TS != 1_700_000_000_123_000 {
		t.Errorf("ts = %d, want µs upscale", quote.TS)
	}
	if quote.Symbol != "SPY" || quote.Bid != 431.10 || quote.Ask != 431.16 {
		t.Errorf("quote = %+v", quote)
	}
	if quote.Mid != 431.13 {
		t.Errorf("mid = %v, want 431.13", quote.Mid)
	}
	if quote.BidSize != 300 || quote.AskSize != 200 {
		t.Errorf("sizes = %v/%v, want 300/200", quote.BidSize, quote.AskSize)
	}
}

func TestQuoteFromVendorMicrosecondTimestampKept(t *testing.T) {
	t.Parallel()
	entry := map[string]any{
		"ev": "Q", "sym": "SPY", "bp": 1.0, "ap": 2.0,
		"t": float64(1_700_000_000_000_000),
	}
	quote, ok := quoteFromVendor(entry)
	if !ok {
		t.Fatal("quote dropped")
	}
	if quote.TS != 1_700_000_000_000_000 {
		t.Errorf("ts = %d, want unchanged", quote.TS)
	}
}

func TestQuoteFromVendorDrops(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry map[string]any
	}{
		{"wrong event", map[string]any{"ev": "T", "sym": "SPY", "bp": 1.0, "ap": 2.0}},
		{"zero bid", map[string]any{"ev": "Q", "sym": "SPY", "bp": 0.0, "ap": 2.0}},
		{"negative ask", map[string]any{"ev": "Q", "sym": "SPY", "bp": 1.0, "ap": -1.0}},
		{"missing sides", map[string]any{"ev": "Q", "sym": "SPY"}},
	}
	for _, tt := range tests {
		if _, ok := quoteFromVendor(tt.entry); ok {
			t.Errorf("%s: normalized, want dropped", tt.name)
		}
	}
}

func TestQuoteFromVendorFallbackKeys(t *testing.T) {
	t.Parallel()
	entry := map[string]any{
		"eventType": "Q",
		"sym":       "QQQ",
		"bidPrice":  100.0,
		"askPrice":  100.2,
		"bidSize":   10.0,
		"askSize":   20.0,
		"timestamp": float64(1_700_000_000_500),
	}
	quote, ok := quoteFromVendor(entry)
	if !ok {
		t.Fatal("quote dropped, want fallback keys honored")
	}
	if quote.Bid != 100.0 || quote.Ask != 100.2 || quote.BidSize != 10 {
		t.Errorf("quote = %+v", quote)
	}
}

func TestAggFromVendor(t *testing.T) {
	t.Parallel()

	entry := map[string]any{
		"ev":  "A",
		"sym": "SPY",
		"o":   430.0,
		"h":   431.0,
		"l":   429.5,
		"c":   430.5,
		"v":   1500.0,
		"s":   float64(1_700_000_000_000),
	}
	agg, ok := aggFromVendor(entry)
	if !ok {
		t.Fatal("agg dropped, want normalized")
	}
	if agg.TS != 1_700_000_000_000_000 {
		t.Errorf("ts = %d, want µs upscale", agg.TS)
	}
	if agg.O != 430 || agg.H != 431 || agg.L != 429.5 || agg.C != 430.5 || agg.V != 1500 {
		t.Errorf("agg = %+v", agg)
	}
}

func TestAggFromVendorEnvelopeFallback(t *testing.T) {
	t.Parallel()

	// No explicit high/low: the open/close envelope fills them in.
	entry := map[string]any{
		"ev": "AM", "sym": "SPY",
		"o": 430.0, "c": 431.2,
		"t": float64(1_700_000_000_000),
	}
	agg, ok := aggFromVendor(entry)
	if !ok {
		t.Fatal("agg dropped")
	}
	if agg.H != 431.2 {
		t.Errorf("h = %v, want close envelope 431.2", agg.H)
	}
	if agg.L != 430.0 {
		t.Errorf("l = %v, want open envelope 430.0", agg.L)
	}
}

func TestAggFromVendorWrongEvent(t *testing.T) {
	t.Parallel()
	if _, ok := aggFromVendor(map[string]any{"ev": "Q", "sym": "SPY"}); ok {
		t.Error("quote event normalized as agg")
	}
}

func TestChannelsFor(t *testing.T) {
	t.Parallel()
	got := channelsFor([]string{"SPY", "", "QQQ"})
	want := []string{"Q.SPY", "A.SPY", "Q.QQQ", "A.QQQ"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("channelsFor = %v, want %v", got, want)
	}
}

func TestUpscaleMicros(t *testing.T) {
	t.Parallel()
	if got := upscaleMicros(1_700_000_000_123); got != 1_700_000_000_123_000 {
		t.Errorf("ms input = %d, want upscaled", got)
	}
	if got := upscaleMicros(1_700_000_000_123_456); got != 1_700_000_000_123_456 {
		t.Errorf("µs input = %d, want unchanged", got)
	}
}
