// Package bus implements the append-only stream fabric the pipeline stages
// communicate through.
//
// Each stream is a keyed log of JSON payloads with monotonically increasing
// entry IDs. Publishing returns the assigned ID; consuming delivers entries
// in order from a start position, blocking briefly when idle. Delivery is
// at-least-once: a consumer that restarts from an old position re-sees
// entries, and slow consumers can lose trimmed history. Two backends exist —
// an in-memory log for tests and the backtest harness, and a Redis streams
// backend (XADD/XREAD) for live runs. Both mirror publishes to an optional
// JSONL auditor.
package bus

import "context"

// Canonical stream names. Adjacent stages share no state beyond these.
const (
	StreamQuotes       = "quotes"
	StreamAggs         = "aggs"
	StreamOptionMeta   = "option_meta"
	StreamHeartbeat    = "heartbeat"
	StreamFeatures     = "features"
	StreamSignals      = "signals"
	StreamLearnerAdj   = "learner_adj"
	StreamRiskOrders   = "risk_orders"
	StreamRiskCommands = "risk_commands"
	StreamOMSOrders    = "oms_orders"
	StreamOMSMetrics   = "oms_metrics"
	StreamExecution    = "execution"
	StreamPortfolio    = "portfolio"
)

// StartBeginning consumes a stream from its first retained entry.
const StartBeginning = "0-0"

// DefaultMaxLen is the approximate per-stream bound producers trim to.
const DefaultMaxLen = 1000

// Entry is one record in a stream. Payload is the raw JSON document.
type Entry struct {
	ID      string
	Payload []byte
}

// Handler processes one delivered entry. A non-nil error is logged by the
// consumer loop and the entry is dropped; errors never stop consumption.
type Handler func(ctx context.Context, entry Entry) error

// Bus is the fabric contract. Publish appends a JSON-encodable payload and
// returns the entry ID. Consume delivers entries with IDs after start, in
// order, invoking the handler serially until ctx is cancelled.
type Bus interface {
	Publish(ctx context.Context, stream string, payload any) (string, error)
	Consume(ctx context.Context, stream, start string, fn Handler) error
	Close() error
}
