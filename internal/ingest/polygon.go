// polygon.go maintains the Polygon WebSocket clusters and normalizes their
// events into canonical quotes and aggregates.
//
// Three independent feeds can run concurrently:
//
//   - stocks cluster: Q./A. channels for the configured equity symbols
//   - indices cluster: the same channels for index tickers
//   - options cluster: channels follow the rotating contract universe;
//     subscription diffs arrive over the rotations channel
//
// Every feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-subscribes on reconnection. A read deadline detects silent servers.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gammabot/pkg/types"
)

const (
	polygonWSBase    = "wss://socket.polygon.io"
	pingInterval     = 20 * time.Second
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	maxReconnectWait = 30 * time.Second
)

type wsAction struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// clusterFeed manages one Polygon cluster socket. Static clusters subscribe
// to a fixed channel list on connect; the options cluster instead tracks the
// rotating contract set and diffs subscriptions as it changes.
type clusterFeed struct {
	cluster   string
	apiKey    string
	channels  []string        // static subscription; nil for the options cluster
	rotations <-chan []string // options cluster only
	svc       *Service
	log       *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu   sync.Mutex
	current map[string]struct{} // options contracts currently subscribed
}

func newClusterFeed(cluster, apiKey string, channels []string, svc *Service) *clusterFeed {
	return &clusterFeed{
		cluster:  cluster,
		apiKey:   apiKey,
		channels: channels,
		svc:      svc,
		log:      svc.log.With("cluster", cluster),
	}
}

func newOptionsFeed(apiKey string, rotations <-chan []string, svc *Service) *clusterFeed {
	return &clusterFeed{
		cluster:   "options",
		apiKey:    apiKey,
		rotations: rotations,
		svc:       svc,
		current:   make(map[string]struct{}),
		log:       svc.log.With("cluster", "options"),
	}
}

// Run connects and maintains the socket with auto-reconnect. Blocks until
// ctx is cancelled.
func (f *clusterFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.log.Warn("polygon socket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *clusterFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, polygonWSBase+"/"+f.cluster, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.writeJSON(wsAction{Action: "auth", Params: f.apiKey}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.log.Info("polygon socket connected")

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(loopCtx)
	if f.rotations != nil {
		go f.rotationLoop(loopCtx)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.svc.recordSnapshot(msg)
		f.svc.handleVendorMessage(ctx, msg)
	}
}

func (f *clusterFeed) sendInitialSubscription() error {
	if f.rotations == nil {
		if len(f.channels) == 0 {
			return nil
		}
		return f.writeJSON(wsAction{Action: "subscribe", Params: strings.Join(f.channels, ",")})
	}

	f.subMu.Lock()
	contracts := make([]string, 0, len(f.current))
	for c := range f.current {
		contracts = append(contracts, c)
	}
	f.subMu.Unlock()

	if len(contracts) == 0 {
		return nil
	}
	sort.Strings(contracts)
	return f.writeJSON(wsAction{Action: "subscribe", Params: strings.Join(channelsFor(contracts), ",")})
}

// rotationLoop applies contract-universe changes to the live subscription.
func (f *clusterFeed) rotationLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case contracts := <-f.rotations:
			if err := f.applyRotation(contracts); err != nil {
				f.log.Warn("rotation update failed", "error", err)
			}
		}
	}
}

func (f *clusterFeed) applyRotation(contracts []string) error {
	target := make(map[string]struct{}, len(contracts))
	for _, c := range contracts {
		target[c] = struct{}{}
	}

	f.subMu.Lock()
	var additions, removals []string
	for c := range target {
		if _, ok := f.current[c]; !ok {
			additions = append(additions, c)
		}
	}
	for c := range f.current {
		if _, ok := target[c]; !ok {
			removals = append(removals, c)
		}
	}
	f.current = target
	f.subMu.Unlock()

	sort.Strings(additions)
	sort.Strings(removals)
	if len(additions) > 0 {
		if err := f.writeJSON(wsAction{Action: "subscribe", Params: strings.Join(channelsFor(additions), ",")}); err != nil {
			return err
		}
	}
	if len(removals) > 0 {
		if err := f.writeJSON(wsAction{Action: "unsubscribe", Params: strings.Join(channelsFor(removals), ",")}); err != nil {
			return err
		}
	}
	return nil
}

func (f *clusterFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.log.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *clusterFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *clusterFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}

// channelsFor expands symbols into their quote and aggregate channels.
func channelsFor(symbols []string) []string {
	channels := make([]string, 0, 2*len(symbols))
	for _, symbol := range symbols {
		if symbol == "" {
			continue
		}
		channels = append(channels, "Q."+symbol, "A."+symbol)
	}
	return channels
}

// ————— vendor normalization —————

// handleVendorMessage decodes one raw frame (an event array, or a single
// event object) and publishes whatever normalizes cleanly. Malformed frames
// are dropped.
func (s *Service) handleVendorMessage(ctx context.Context, raw []byte) {
	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		var single map[string]any
		if err := json.Unmarshal(raw, &single); err != nil {
			return
		}
		entries = []map[string]any{single}
	}
	for _, entry := range entries {
		if quote, ok := quoteFromVendor(entry); ok {
			s.publishQuote(ctx, quote)
		}
		if agg, ok := aggFromVendor(entry); ok {
			s.publishAgg(ctx, agg)
		}
	}
}

// quoteFromVendor maps a Polygon quote event to the canonical shape. Events
// with an empty side are dropped; millisecond timestamps are upscaled to µs.
func quoteFromVendor(entry map[string]any) (types.Quote, bool) {
	ev, _ := entry["ev"].(string)
	if ev == "" {
		ev, _ = entry["eventType"].(string)
	}
	switch ev {
	case "Q", "Iq", "Cx", "XQ":
	default:
		return types.Quote{}, false
	}

	symbol, _ := entry["sym"].(string)
	bid, _ := vendorNum(entry, "bp", "bidPrice")
	ask, _ := vendorNum(entry, "ap", "askPrice")
	if bid <= 0 || ask <= 0 {
		return types.Quote{}, false
	}
	tsRaw, _ := vendorNum(entry, "t", "timestamp")
	bidSize, _ := vendorNum(entry, "bs", "bidSize")
	askSize, _ := vendorNum(entry, "as", "askSize")

	quote := types.Quote{
		TS:      upscaleMicros(int64(tsRaw)),
		Symbol:  symbol,
		Bid:     bid,
		Ask:     ask,
		Mid:     round5((bid + ask) / 2),
		BidSize: bidSize,
		AskSize: askSize,
	}
	if p, ok := entry["participants"].(float64); ok {
		quote.NBBOAgeMS = int64(p)
	}
	return quote, true
}

// aggFromVendor maps a Polygon aggregate event; absent highs and lows fall
// back to the open/close envelope.
func aggFromVendor(entry map[string]any) (types.Agg1s, bool) {
	ev, _ := entry["ev"].(string)
	switch ev {
	case "A", "AM", "XA":
	default:
		return types.Agg1s{}, false
	}

	symbol, _ := entry["sym"].(string)
	o, _ := vendorNum(entry, "o", "open")
	c, _ := vendorNum(entry, "c", "close")
	h, ok := vendorNum(entry, "h", "high")
	if !ok {
		h = math.Max(o, c)
	}
	l, ok := vendorNum(entry, "l", "low")
	if !ok {
		l = math.Min(o, c)
	}
	v, _ := vendorNum(entry, "v", "volume")
	tsRaw, _ := vendorNum(entry, "s", "t")

	return types.Agg1s{
		TS:     upscaleMicros(int64(tsRaw)),
		Symbol: symbol,
		O:      o,
		H:      h,
		L:      l,
		C:      c,
		V:      v,
	}, true
}

// vendorNum reads the first numeric value present under the given keys.
func vendorNum(entry map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := entry[key]; ok {
			switch n := v.(type) {
			case float64:
				return n, true
			case int64:
				return float64(n), true
			case json.Number:
				f, err := n.Float64()
				if err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

// upscaleMicros promotes millisecond timestamps to microseconds.
func upscaleMicros(ts int64) int64 {
	if ts < 1e15 {
		return ts * 1000
	}
	return ts
}

func round5(v float64) float64 { return math.Round(v*100000) / 100000 }
