package features

import (
	"testing"
	"time"

	"gammabot/internal/config"
	"gammabot/pkg/types"
)

func testFeaturesConfig() config.FeaturesConfig {
	return config.FeaturesConfig{
		BandsSigmas:         []int{1, 2},
		BandStdevWindowSecs: 300,
		SlopeLookback:       30,
		ATRMinLookback:      14,
		ATRFastSecs:         5,
		ADXTFMinutes:        3,
		TermDays:            []int{9, 30, 60},
		SkewDelta:           0.25,
		NBBOStaleMS:         800,
		NBBOMaxSpreadPct:    1.0,
		SpreadStressZ:       2.0,
		ESLeadConfirmSecs:   5,
	}
}

func microTS(t time.Time) int64 { return t.UnixMicro() }

func TestEngineComputeEmitsFullPacket(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testFeaturesConfig())
	base := microTS(time.Date(2025, 1, 10, 14, 30, 0, 0, time.UTC))

	engine.UpdateQuote(types.Quote{
		TS: base, Symbol: "SPY", Bid: 99.95, Ask: 100.05,
		BidSize: 100, AskSize: 100,
	})

	var packet types.FeaturePacket
	for i := 0; i < 40; i++ {
		bar := types.Agg1s{
			TS: base + int64(i+1)*1_000_000, Symbol: "SPY",
			O: 100, H: 100.2, L: 99.8, C: 100 + float64(i)*0.01, V: 1000,
		}
		packet = engine.Compute("SPY", bar, true)
	}

	if packet.TF != "1s" {
		t.Errorf("tf = %q, want 1s", packet.TF)
	}
	if packet.VWAP <= 0 {
		t.Errorf("vwap = %v, want > 0", packet.VWAP)
	}
	if _, ok := packet.VWAPBands["1"]; !ok {
		t.Error("missing vwap band 1")
	}
	if _, ok := packet.VWAPBands["2"]; !ok {
		t.Error("missing vwap band 2")
	}
	if packet.ATR1m <= 0 || packet.ATR1s <= 0 {
		t.Errorf("atr = (%v, %v), want > 0", packet.ATR1m, packet.ATR1s)
	}
	if packet.VWAPSlope <= 0 {
		t.Errorf("slope = %v, want > 0 for a rising series", packet.VWAPSlope)
	}
	if !packet.Micro.ESLeadAgree {
		t.Error("es_lead_agree should hold after a confirm")
	}
	if packet.Prob.PotEst <= 0 || packet.Prob.PotEst > 1 {
		t.Errorf("pot_est = %v, want in (0, 1]", packet.Prob.PotEst)
	}
	// 40 bars is short of the 180-sample ADX window, so it must stay zero.
	if packet.ADX3m != 0 {
		t.Errorf("adx below window = %v, want 0", packet.ADX3m)
	}
}

func TestEngineNBBOAgeTracksLastQuote(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testFeaturesConfig())
	base := microTS(time.Date(2025, 1, 10, 14, 30, 0, 0, time.UTC))

	engine.UpdateQuote(types.Quote{TS: base, Symbol: "SPY", Bid: 99.9, Ask: 100.1})
	bar := types.Agg1s{TS: base + 900_000, Symbol: "SPY", O: 100, H: 100, L: 100, C: 100, V: 10}
	packet := engine.Compute("SPY", bar, true)
	if !almostEqual(packet.Micro.NBBOAgeMS, 900, 1e-9) {
		t.Errorf("nbbo_age_ms = %v, want 900", packet.Micro.NBBOAgeMS)
	}
}

func TestEngineESAgreeExpires(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testFeaturesConfig())
	base := microTS(time.Date(2025, 1, 10, 14, 30, 0, 0, time.UTC))

	bar := types.Agg1s{TS: base, Symbol: "SPY", O: 100, H: 100, L: 100, C: 100, V: 10}
	packet := engine.Compute("SPY", bar, true)
	if !packet.Micro.ESLeadAgree {
		t.Fatal("confirm should set the agree flag")
	}
	// 6 seconds later without a confirm the 5s deadline has lapsed.
	bar.TS = base + 6_000_000
	packet = engine.Compute("SPY", bar, false)
	if packet.Micro.ESLeadAgree {
		t.Error("agree flag should expire after the confirm window")
	}
}

func TestEngineVolSurface(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testFeaturesConfig())
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	ts := microTS(now)

	engine.UpdateOption(types.OptionMeta{
		TS: ts, Underlying: "SPY", Symbol: "SPY250119C00600000",
		Strike: 600, Type: "C", Exp: "2025-01-19", IV: 0.25, Delta: 0.25,
	})
	engine.UpdateOption(types.OptionMeta{
		TS: ts, Underlying: "SPY", Symbol: "SPY250119P00580000",
		Strike: 580, Type: "P", Exp: "2025-01-19", IV: 0.33, Delta: -0.25,
	})
	engine.UpdateOption(types.OptionMeta{
		TS: ts, Underlying: "SPY", Symbol: "SPY250210C00600000",
		Strike: 600, Type: "C", Exp: "2025-02-10", IV: 0.21, Delta: 0.5,
	})

	bar := types.Agg1s{TS: ts, Symbol: "SPY", O: 590, H: 590, L: 590, C: 590, V: 10}
	packet := engine.Compute("SPY", bar, true)

	if !almostEqual(packet.IV9d, 0.33, 1e-12) {
		t.Errorf("iv_9d = %v, want 0.33 (latest 9-day bucket write)", packet.IV9d)
	}
	if !almostEqual(packet.IV30d, 0.21, 1e-12) {
		t.Errorf("iv_30d = %v, want 0.21", packet.IV30d)
	}
	if packet.IV60d != 0 {
		t.Errorf("iv_60d = %v, want 0 (no 60-day contract seen)", packet.IV60d)
	}
	if !almostEqual(packet.Skew25d, 0.33-0.25, 1e-12) {
		t.Errorf("skew_25d = %v, want 0.08", packet.Skew25d)
	}
	if packet.VolOfVol <= 0 {
		t.Errorf("vol_of_vol = %v, want > 0 with mixed IVs", packet.VolOfVol)
	}
}

func TestEngineCVDFromTrades(t *testing.T) {
	t.Parallel()
	engine := NewEngine(testFeaturesConfig())
	engine.UpdateTrade("SPY", "buy", 100)
	engine.UpdateTrade("SPY", "sell", 30)

	bar := types.Agg1s{TS: 1_700_000_000_000_000, Symbol: "SPY", O: 100, H: 100, L: 100, C: 100, V: 10}
	packet := engine.Compute("SPY", bar, true)
	if packet.Micro.CVD90s != 70 {
		t.Errorf("cvd = %v, want 70", packet.Micro.CVD90s)
	}
}

func TestDaysToExpiry(t *testing.T) {
	t.Parallel()
	ts := microTS(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	if days, ok := daysToExpiry("2025-01-19", ts); !ok || days != 9 {
		t.Errorf("daysToExpiry = (%d, %v), want (9, true)", days, ok)
	}
	if days, ok := daysToExpiry("2025-01-09", ts); !ok || days != 0 {
		t.Errorf("past expiry = (%d, %v), want clamped (0, true)", days, ok)
	}
	if _, ok := daysToExpiry("not-a-date", ts); ok {
		t.Error("malformed expiry should not parse")
	}
}
