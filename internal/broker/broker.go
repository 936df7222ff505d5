// Package broker adapts bracket orders to execution venues.
//
// Two implementations satisfy Broker:
//   - InMemory: the sandbox venue for tests and paper runs — sequential ids,
//     immediate fills, merge-on-modify
//   - Tradier:  live REST adapter — form-encoded POST/PUT/DELETE/GET against
//     /accounts/{account_id}/orders[/{order_id}], bearer auth, token-bucket
//     rate limiting, exponential backoff on 429/5xx/network errors
//
// Every venue reply is projected to a uniform Response (order id, state,
// fills, raw payload) so the OMS never parses venue JSON itself.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gammabot/pkg/types"
)

// Broker routes bracket orders to a venue. Implementations must be safe for
// concurrent use.
type Broker interface {
	Place(ctx context.Context, order OTOCO) (Response, error)
	Modify(ctx context.Context, orderID string, changes Changes) (Response, error)
	Cancel(ctx context.Context, orderID string) (Response, error)
	Get(ctx context.Context, orderID string) (Response, error)
}

// Changes carries the mutable fields of a working order. Zero values mean
// "leave unchanged".
type Changes struct {
	StopPrice   float64
	TargetPrice float64
}

// Response is the uniform projection of a venue reply.
type Response struct {
	OrderID string
	State   string
	Fills   []types.Fill
	Raw     map[string]any
}

// PermanentError is a venue rejection that must not be retried: the order is
// marked rejected and polling stops.
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("broker rejected request: status %d: %s", e.Status, e.Body)
}

// Project reduces a raw venue reply to a Response. Extraction is best-effort:
// the order body may sit at the top level or under "order", the id may be a
// string or a number, and fills may arrive as "executions" or "fills".
func Project(raw map[string]any) Response {
	body := raw
	if nested, ok := raw["order"].(map[string]any); ok {
		body = nested
	}
	resp := Response{State: types.StateUnknown, Raw: raw}
	switch id := body["id"].(type) {
	case string:
		resp.OrderID = id
	case float64:
		resp.OrderID = strconv.FormatInt(int64(id), 10)
	case json.Number:
		resp.OrderID = id.String()
	}
	if state, ok := body["status"].(string); ok && state != "" {
		resp.State = canonicalState(state)
	}
	list, ok := body["executions"].([]any)
	if !ok {
		list, _ = body["fills"].([]any)
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fill := types.Fill{Price: number(m["price"]), TS: int64(number(m["ts"]))}
		if qty, ok := m["qty"]; ok {
			fill.Qty = number(qty)
		} else {
			fill.Qty = number(m["quantity"])
		}
		resp.Fills = append(resp.Fills, fill)
	}
	return resp
}

// canonicalState maps venue spellings onto the lifecycle states. Tradier
// spells canceled with one l and reports freshly accepted orders as "ok" or
// "pending".
func canonicalState(state string) string {
	switch s := strings.ToLower(state); s {
	case "canceled":
		return types.StateCancelled
	case "ok", "pending":
		return types.StateOpen
	default:
		return s
	}
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	}
	return 0
}
