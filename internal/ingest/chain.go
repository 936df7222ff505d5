package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"gammabot/pkg/types"
)

const chainPageLimit = 100

// ChainClient fetches option chain metadata from the Polygon reference API.
type ChainClient struct {
	http *resty.Client
}

func NewChainClient(apiKey string) *ChainClient {
	client := resty.New().
		SetBaseURL("https://api.polygon.io").
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetAuthToken(apiKey)
	return &ChainClient{http: client}
}

type contractRow struct {
	Ticker            string  `json:"ticker"`
	StrikePrice       float64 `json:"strike_price"`
	ContractType      string  `json:"contract_type"`
	ExpirationDate    string  `json:"expiration_date"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	OpenInterest      int64   `json:"open_interest"`
	PrevDayOI         int64   `json:"previous_day_open_interest"`
	Updated           int64   `json:"updated"`
	Greeks            struct {
		Delta float64 `json:"delta"`
		Gamma float64 `json:"gamma"`
		Vega  float64 `json:"vega"`
		Theta float64 `json:"theta"`
	} `json:"greeks"`
}

// FetchChain returns contracts for underlying inside [minDTE, maxDTE],
// capped at maxOptions. A non-positive maxOptions keeps the whole page.
func (c *ChainClient) FetchChain(ctx context.Context, underlying string, minDTE, maxDTE, maxOptions int) ([]types.OptionMeta, error) {
	var reply struct {
		Results []contractRow `json:"results"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"underlying_ticker": underlying,
			"limit":             strconv.Itoa(chainPageLimit),
		}).
		SetResult(&reply).
		Get("/v3/reference/options/contracts")
	if err != nil {
		return nil, fmt.Errorf("fetch chain %s: %w", underlying, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch chain %s: status %d", underlying, resp.StatusCode())
	}

	now := time.Now().UTC()
	out := make([]types.OptionMeta, 0, len(reply.Results))
	for _, row := range reply.Results {
		exp := row.ExpirationDate
		if exp == "" {
			exp = "1970-01-01"
		}
		dte, ok := daysToExpiry(exp, now)
		if !ok || dte < float64(minDTE) || dte > float64(maxDTE) {
			continue
		}
		right := "P"
		if row.ContractType == "call" {
			right = "C"
		}
		out = append(out, types.OptionMeta{
			TS:         row.Updated,
			Underlying: underlying,
			Symbol:     row.Ticker,
			Strike:     row.StrikePrice,
			Type:       right,
			Exp:        exp,
			IV:         row.ImpliedVolatility,
			Delta:      row.Greeks.Delta,
			Gamma:      row.Greeks.Gamma,
			Vega:       row.Greeks.Vega,
			Theta:      row.Greeks.Theta,
			OI:         row.OpenInterest,
			PrevOI:     row.PrevDayOI,
		})
		if maxOptions > 0 && len(out) >= maxOptions {
			break
		}
	}
	return out, nil
}
