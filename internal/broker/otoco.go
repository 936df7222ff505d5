package broker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"gammabot/pkg/types"
)

// Leg is one leg of a bracket order.
type Leg struct {
	Side       types.Side `json:"side"`
	Quantity   int        `json:"quantity"`
	OrderType  string     `json:"order_type"`
	LimitPrice float64    `json:"limit_price"`
	StopPrice  float64    `json:"stop_price"`
}

// OTOCO is a one-triggers-one-cancels-other bracket: an entry leg that, once
// filled, arms a take-profit and a stop where either cancels the other.
type OTOCO struct {
	Symbol     string
	Entry      Leg
	TakeProfit Leg
	Stop       Leg
}

// BuildOTOCO assembles the bracket. The entry is a marketable limit offset
// from entry_price on the signed side; both exit legs sit on the opposite
// side at the target and stop.
func BuildOTOCO(symbol string, quantity int, side types.Side, entryPrice, targetPrice, stopPrice, offsetTicks float64) OTOCO {
	entryLimit := entryPrice + side.Sign()*offsetTicks
	exit := side.Opposite()
	return OTOCO{
		Symbol:     symbol,
		Entry:      Leg{Side: side, Quantity: quantity, OrderType: "limit", LimitPrice: entryLimit},
		TakeProfit: Leg{Side: exit, Quantity: quantity, OrderType: "limit", LimitPrice: targetPrice},
		Stop:       Leg{Side: exit, Quantity: quantity, OrderType: "stop", StopPrice: stopPrice},
	}
}

// Payload is the internal wire shape, used by the sandbox venue and the
// order audit trail.
func (o OTOCO) Payload() map[string]any {
	return map[string]any{
		"symbol": o.Symbol,
		"type":   "OTOCO",
		"legs":   []map[string]any{o.Entry.asMap(), o.TakeProfit.asMap(), o.Stop.asMap()},
	}
}

func (l Leg) asMap() map[string]any {
	return map[string]any{
		"side":        string(l.Side),
		"quantity":    l.Quantity,
		"order_type":  l.OrderType,
		"limit_price": l.LimitPrice,
		"stop_price":  l.StopPrice,
	}
}

// TradierForm flattens the bracket into Tradier's advanced-order form fields:
// orders[i][...] sub-keys plus advanced=otoco. Prices are rendered at two
// decimal places.
func (o OTOCO) TradierForm() map[string]string {
	form := map[string]string{
		"symbol":   o.Symbol,
		"advanced": "otoco",
		"duration": "day",
	}
	for i, leg := range []Leg{o.Entry, o.TakeProfit, o.Stop} {
		prefix := fmt.Sprintf("orders[%d]", i)
		form[prefix+"[side]"] = strings.ToLower(string(leg.Side))
		form[prefix+"[quantity]"] = strconv.Itoa(leg.Quantity)
		form[prefix+"[type]"] = leg.OrderType
		switch leg.OrderType {
		case "limit":
			form[prefix+"[price]"] = money(leg.LimitPrice)
		case "stop":
			form[prefix+"[stop]"] = money(leg.StopPrice)
		}
	}
	return form
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
