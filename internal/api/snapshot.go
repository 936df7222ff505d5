package api

import (
	"time"

	"gammabot/pkg/types"
)

// SnapshotProvider is the engine surface the ops API reads from. All methods
// must be safe for concurrent use.
type SnapshotProvider interface {
	PortfolioSnapshot() types.PortfolioSnapshot
	OpenOrders() int
	PendingIntents() int
	Heartbeat() types.HeartbeatStats
	FeedMode() string
	Quotes() []types.Quote
}

// Snapshot is the one-call JSON view of pipeline state.
type Snapshot struct {
	Timestamp     time.Time               `json:"timestamp"`
	FeedMode      string                  `json:"feed_mode"`
	Heartbeat     types.HeartbeatStats    `json:"heartbeat"`
	OpenOrders    int                     `json:"open_orders"`
	PendingOrders int                     `json:"pending_orders"`
	Portfolio     types.PortfolioSnapshot `json:"portfolio"`
	Quotes        []types.Quote           `json:"quotes"`
}

// BuildSnapshot aggregates provider state into one response.
func BuildSnapshot(provider SnapshotProvider) Snapshot {
	return Snapshot{
		Timestamp:     time.Now().UTC(),
		FeedMode:      provider.FeedMode(),
		Heartbeat:     provider.Heartbeat(),
		OpenOrders:    provider.OpenOrders(),
		PendingOrders: provider.PendingIntents(),
		Portfolio:     provider.PortfolioSnapshot(),
		Quotes:        provider.Quotes(),
	}
}
