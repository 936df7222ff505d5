package ingest

import (
	"sort"
	"sync"
	"time"

	"gammabot/pkg/types"
)

// QuoteBook mirrors the latest NBBO per symbol. The ops surface reads it for
// snapshots; staleness checks compare against the quote's exchange
// timestamp rather than arrival time.
type QuoteBook struct {
	mu      sync.RWMutex
	quotes  map[string]types.Quote
	updated map[string]time.Time
}

func NewQuoteBook() *QuoteBook {
	return &QuoteBook{
		quotes:  make(map[string]types.Quote),
		updated: make(map[string]time.Time),
	}
}

// Apply records the newest quote for its symbol.
func (b *QuoteBook) Apply(quote types.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[quote.Symbol] = quote
	b.updated[quote.Symbol] = time.Now()
}

// Last returns the most recent quote for symbol.
func (b *QuoteBook) Last(symbol string) (types.Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	quote, ok := b.quotes[symbol]
	return quote, ok
}

// Mid returns the midpoint for symbol. Returns false when no quote has
// arrived or both sides are empty.
func (b *QuoteBook) Mid(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	quote, ok := b.quotes[symbol]
	if !ok || (quote.Bid == 0 && quote.Ask == 0) {
		return 0, false
	}
	if quote.Mid != 0 {
		return quote.Mid, true
	}
	return (quote.Bid + quote.Ask) / 2, true
}

// IsStale reports whether symbol's quote is older than maxAge, by arrival
// time. Unknown symbols are stale.
func (b *QuoteBook) IsStale(symbol string, maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	at, ok := b.updated[symbol]
	if !ok {
		return true
	}
	return time.Since(at) > maxAge
}

// Snapshot returns every tracked quote, sorted by symbol.
func (b *QuoteBook) Snapshot() []types.Quote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Quote, 0, len(b.quotes))
	for _, quote := range b.quotes {
		out = append(out, quote)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
