// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the control plane — market data
// records, feature packets, signal intents, order messages, and the learner
// adjustment contract. It has no dependencies on internal packages, so it can
// be imported by any layer.
package types

import "encoding/json"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() float64 {
	if s == SELL {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// Playbook names the four strategy templates the policy layer can select.
const (
	PlaybookTrendPullback = "TREND_PULLBACK"
	PlaybookBalanceFade   = "BALANCE_FADE"
	PlaybookORB           = "ORB"
	PlaybookLatePush      = "LATE_PUSH"
)

// Playbooks lists every playbook in selection order.
var Playbooks = []string{PlaybookTrendPullback, PlaybookBalanceFade, PlaybookORB, PlaybookLatePush}

// Order lifecycle states as reported on the oms_orders stream.
const (
	StateOpen            = "open"
	StatePartiallyFilled = "partially_filled"
	StateFilled          = "filled"
	StateCancelled       = "cancelled"
	StateRejected        = "rejected"
	StateUnknown         = "unknown"
)

// TerminalState reports whether an order state ends the lifecycle.
func TerminalState(state string) bool {
	switch state {
	case StateFilled, StateCancelled, StateRejected:
		return true
	}
	return false
}

// Spread regimes classified by the microstructure z-score.
const (
	SpreadTight    = "tight"
	SpreadNormal   = "normal"
	SpreadStressed = "stressed"
)

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Quote is a normalized NBBO snapshot. Timestamps are microseconds since
// epoch, as everywhere else in the system.
type Quote struct {
	TS        int64   `json:"ts"`
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Mid       float64 `json:"mid"`
	BidSize   float64 `json:"bid_size"`
	AskSize   float64 `json:"ask_size"`
	NBBOAgeMS int64   `json:"nbbo_age_ms"`
}

// UnmarshalJSON derives Mid from bid/ask when the producer omitted it.
func (q *Quote) UnmarshalJSON(data []byte) error {
	type alias Quote
	var raw struct {
		alias
		Mid *float64 `json:"mid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*q = Quote(raw.alias)
	if raw.Mid != nil {
		q.Mid = *raw.Mid
	} else {
		q.Mid = (q.Bid + q.Ask) / 2
	}
	return nil
}

// Agg1s is a one-second (or coarser) OHLCV aggregate bar.
type Agg1s struct {
	TS     int64   `json:"ts"`
	Symbol string  `json:"symbol"`
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
}

// OptionMeta carries per-contract greeks and open interest from the chain
// snapshot feed. Type is "C" or "P"; Exp is YYYY-MM-DD.
type OptionMeta struct {
	TS         int64   `json:"ts"`
	Underlying string  `json:"underlying"`
	Symbol     string  `json:"symbol"`
	Strike     float64 `json:"strike"`
	Type       string  `json:"type"`
	Exp        string  `json:"exp"`
	IV         float64 `json:"iv"`
	Delta      float64 `json:"delta"`
	Gamma      float64 `json:"gamma"`
	Vega       float64 `json:"vega"`
	Theta      float64 `json:"theta"`
	OI         int64   `json:"oi"`
	PrevOI     int64   `json:"prev_oi"`
}

// IsOptionSymbol distinguishes OCC-style contract symbols from underlyings.
// A contract carries a C or P right flag between the expiry digits and the
// strike digits (SPY240119C00470000); underlyings never do.
func IsOptionSymbol(symbol string) bool {
	if len(symbol) <= 8 {
		return false
	}
	for i := len(symbol) - 2; i >= 1; i-- {
		c := symbol[i]
		if c != 'C' && c != 'P' {
			continue
		}
		if isDigit(symbol[i-1]) && isDigit(symbol[i+1]) {
			return true
		}
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// ————————————————————————————————————————————————————————————————————————
// Features
// ————————————————————————————————————————————————————————————————————————

// Micro holds the microstructure block of a FeaturePacket.
type Micro struct {
	NBBOAgeMS   float64 `json:"nbbo_age_ms"`
	SpreadPct   float64 `json:"spread_pct"`
	SpreadState string  `json:"spread_state"`
	CVD90s      float64 `json:"cvd_90s"`
	ESLeadAgree bool    `json:"es_lead_agree"`
}

// Prob holds the option-probability block of a FeaturePacket.
type Prob struct {
	PITM   float64 `json:"p_itm"`
	PotEst float64 `json:"pot_est"`
}

// Band is a (lower, upper) VWAP band pair.
type Band [2]float64

// FeaturePacket is the full per-bar feature record emitted on the features
// stream. VWAPBands is keyed by the sigma multiple as a string ("1", "2").
type FeaturePacket struct {
	TS        int64           `json:"ts"`
	Symbol    string          `json:"symbol"`
	TF        string          `json:"tf"`
	VWAP      float64         `json:"vwap"`
	VWAPBands map[string]Band `json:"vwap_bands"`
	ATR1m     float64         `json:"atr_1m"`
	ATR1s     float64         `json:"atr_1s"`
	ADX3m     float64         `json:"adx_3m"`
	VWAPSlope float64         `json:"vwap_slope"`
	RV5m      float64         `json:"rv_5m"`
	RV15m     float64         `json:"rv_15m"`
	IV9d      float64         `json:"iv_9d"`
	IV30d     float64         `json:"iv_30d"`
	IV60d     float64         `json:"iv_60d"`
	Skew25d   float64         `json:"skew_25d"`
	VolOfVol  float64         `json:"vol_of_vol"`
	Micro     Micro           `json:"micro"`
	Prob      Prob            `json:"prob"`
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// EntryTrigger describes the condition a playbook enters on.
type EntryTrigger struct {
	Type          string   `json:"type"`
	Band          string   `json:"band"`
	Confirmations []string `json:"confirmations"`
}

// OptionFilters constrains the contract a signal may be routed to.
type OptionFilters struct {
	DeltaRange    [2]float64 `json:"delta_range"`
	DTERange      [2]int     `json:"dte_range"`
	SpreadPctMax  float64    `json:"spread_pct_max,omitempty"`
	QuoteAgeMsMax float64    `json:"quote_age_ms_max,omitempty"`
	LateClose     bool       `json:"late_close,omitempty"`
}

// SignalIntent is the policy layer's output: a playbook instance with target
// and stop moves expressed in underlying points, ready for risk admission.
// StopUnderlyingMove is signed (negative for an adverse move).
type SignalIntent struct {
	TS                   int64         `json:"ts"`
	Underlying           string        `json:"underlying"`
	Side                 Side          `json:"side"`
	Playbook             string        `json:"playbook"`
	EntryTrigger         EntryTrigger  `json:"entry_trigger"`
	TargetUnderlyingMove float64       `json:"target_underlying_move"`
	StopUnderlyingMove   float64       `json:"stop_underlying_move"`
	TimeStopSecs         int           `json:"time_stop_secs"`
	OptionFilters        OptionFilters `json:"option_filters"`
	SizeMultiplier       float64       `json:"size_multiplier"`
}

// AdjustmentPacket is published on learner_adj for each feature packet the
// learner sees. Consumers overlay these on their static gate config.
type AdjustmentPacket struct {
	TS              int64              `json:"ts"`
	Symbol          string             `json:"symbol"`
	RiskMultiplier  float64            `json:"risk_multiplier"`
	PotThreshold    float64            `json:"pot_threshold"`
	ADXThreshold    float64            `json:"adx_threshold"`
	PlaybookWeights map[string]float64 `json:"playbook_weights"`
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is what risk publishes on risk_orders after admission. The
// metadata carries the client_order_id correlation key plus the playbook.
type OrderRequest struct {
	TS           int64          `json:"ts"`
	Underlying   string         `json:"underlying"`
	OptionSymbol string         `json:"option_symbol"`
	Side         Side           `json:"side"`
	Quantity     int            `json:"quantity"`
	EntryPrice   float64        `json:"entry_price"`
	TargetPrice  float64        `json:"target_price"`
	StopPrice    float64        `json:"stop_price"`
	TimeStopSecs int            `json:"time_stop_secs"`
	Metadata     map[string]any `json:"metadata"`
}

// ClientOrderID extracts the correlation key from the request metadata.
func (r OrderRequest) ClientOrderID() string {
	if r.Metadata == nil {
		return ""
	}
	id, _ := r.Metadata["client_order_id"].(string)
	return id
}

// Fill is a single execution slice inside an OrderStatus.
type Fill struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
	TS    int64   `json:"ts"`
}

// OrderStatus is the OMS's view of one broker order, published on
// oms_orders. Request echoes the originating OrderRequest; BrokerPayload is
// opaque pass-through for audit.
type OrderStatus struct {
	TS            int64          `json:"ts"`
	OrderID       string         `json:"order_id"`
	State         string         `json:"state"`
	Request       OrderRequest   `json:"request"`
	BrokerPayload map[string]any `json:"broker_payload"`
	Fills         []Fill         `json:"fills"`
}

// FilledQty sums the fill slices.
func (s OrderStatus) FilledQty() float64 {
	var total float64
	for _, f := range s.Fills {
		total += f.Qty
	}
	return total
}

// Command actions accepted on risk_commands.
const (
	CommandCancel = "cancel"
	CommandModify = "modify"
)

// OrderCommand asks the OMS to cancel or modify a working order. The
// client_order_id is mandatory; order_id is filled when the issuer knows it.
type OrderCommand struct {
	Action        string  `json:"action"`
	ClientOrderID string  `json:"client_order_id"`
	OrderID       string  `json:"order_id,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	TargetPrice   float64 `json:"target_price,omitempty"`
}

// OMSMetric summarizes one terminal order for the oms_metrics stream.
type OMSMetric struct {
	TS            int64   `json:"ts"`
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	State         string  `json:"state"`
	Side          Side    `json:"side"`
	Quantity      int     `json:"quantity"`
	FilledQty     float64 `json:"filled_qty"`
	LatencyMS     float64 `json:"latency_ms"`
	AvgFillPrice  float64 `json:"avg_fill_price"`
}

// ————————————————————————————————————————————————————————————————————————
// Execution analytics & portfolio
// ————————————————————————————————————————————————————————————————————————

// ExecutionReport grades a filled order against prevailing quotes. Pointer
// fields are nil when the reference quote was never observed.
type ExecutionReport struct {
	TS            int64          `json:"ts"`
	OrderID       string         `json:"order_id"`
	Underlying    string         `json:"underlying"`
	OptionSymbol  string         `json:"option_symbol"`
	Side          Side           `json:"side"`
	FillPrice     float64        `json:"fill_price"`
	FillQty       int            `json:"fill_qty"`
	FillTS        int64          `json:"fill_ts"`
	OptionMid     *float64       `json:"option_mid"`
	UnderlyingMid *float64       `json:"underlying_mid"`
	SlippageBps   *float64       `json:"slippage_bps"`
	LatencyMS     float64        `json:"latency_ms"`
	RiskReward    *float64       `json:"risk_reward"`
	Metadata      map[string]any `json:"metadata"`
}

// PositionView is one open position inside a PortfolioSnapshot.
type PositionView struct {
	Symbol     string  `json:"symbol"`
	Qty        int     `json:"qty"`
	AvgPrice   float64 `json:"avg_price"`
	Mid        float64 `json:"mid"`
	Unrealized float64 `json:"unrealized"`
}

// PortfolioSnapshot is the accountant's output on the portfolio stream.
type PortfolioSnapshot struct {
	TS            int64          `json:"ts"`
	RealizedPnL   float64        `json:"realized_pnl"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	TotalPnL      float64        `json:"total_pnl"`
	Positions     []PositionView `json:"positions"`
}

// ————————————————————————————————————————————————————————————————————————
// Ingest heartbeat
// ————————————————————————————————————————————————————————————————————————

// StreamStat counts messages on one feed leg. AgeMS is nil until the first
// message arrives.
type StreamStat struct {
	Count int64    `json:"count"`
	AgeMS *float64 `json:"age_ms"`
}

// HeartbeatStats is the ingest liveness record on the heartbeat stream.
type HeartbeatStats struct {
	TS         int64      `json:"ts"`
	Mode       string     `json:"mode"`
	Quotes     StreamStat `json:"quotes"`
	Aggs       StreamStat `json:"aggs"`
	OptionMeta StreamStat `json:"option_meta"`
}
