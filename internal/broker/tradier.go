package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"gammabot/internal/config"
)

// Tradier is the live REST adapter. Transient failures (network, 429, 5xx)
// are retried with exponential backoff starting at retry_backoff_secs and
// capped at 30s; any other 4xx surfaces as a PermanentError.
type Tradier struct {
	cfg    config.BrokerConfig
	http   *resty.Client
	bucket *TokenBucket
	log    *slog.Logger
}

func NewTradier(cfg config.BrokerConfig, logger *slog.Logger) *Tradier {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.RequestTimeoutSecs * float64(time.Second))).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Duration(cfg.RetryBackoffSecs * float64(time.Second))).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetAuthToken(cfg.Token).
		SetHeader("Accept", "application/json")

	burst := cfg.RateLimitPerSec
	if burst < 1 {
		burst = 1
	}
	return &Tradier{
		cfg:    cfg,
		http:   client,
		bucket: NewTokenBucket(burst, cfg.RateLimitPerSec),
		log:    logger.With("component", "broker"),
	}
}

func (t *Tradier) Place(ctx context.Context, order OTOCO) (Response, error) {
	t.log.Info("placing order", "symbol", order.Symbol, "side", order.Entry.Side)
	return t.do(ctx, http.MethodPost, t.ordersPath(""), order.TradierForm())
}

func (t *Tradier) Modify(ctx context.Context, orderID string, changes Changes) (Response, error) {
	form := make(map[string]string)
	if changes.StopPrice != 0 {
		form["stop"] = money(changes.StopPrice)
	}
	if changes.TargetPrice != 0 {
		form["price"] = money(changes.TargetPrice)
	}
	t.log.Info("modifying order", "order_id", orderID)
	return t.do(ctx, http.MethodPut, t.ordersPath(orderID), form)
}

func (t *Tradier) Cancel(ctx context.Context, orderID string) (Response, error) {
	t.log.Info("cancelling order", "order_id", orderID)
	return t.do(ctx, http.MethodDelete, t.ordersPath(orderID), nil)
}

func (t *Tradier) Get(ctx context.Context, orderID string) (Response, error) {
	return t.do(ctx, http.MethodGet, t.ordersPath(orderID), nil)
}

func (t *Tradier) ordersPath(orderID string) string {
	path := fmt.Sprintf("/accounts/%s/orders", t.cfg.AccountID)
	if orderID != "" {
		path += "/" + orderID
	}
	return path
}

func (t *Tradier) do(ctx context.Context, method, path string, form map[string]string) (Response, error) {
	if err := t.bucket.Wait(ctx); err != nil {
		return Response{}, err
	}

	req := t.http.R().SetContext(ctx)
	if len(form) > 0 {
		req.SetFormData(form)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, path, err)
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
	case code == http.StatusTooManyRequests || code >= 500:
		return Response{}, fmt.Errorf("%s %s: status %d after retries: %s", method, path, code, resp.String())
	default:
		return Response{}, &PermanentError{Status: code, Body: resp.String()}
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return Response{}, fmt.Errorf("%s %s: decode reply: %w", method, path, err)
	}
	return Project(raw), nil
}
