package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/resilience"
)

const maxBodyBytes = 1 << 20

// Options configures an HTTPClient.
type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RetryBase time.Duration
	Breaker   *resilience.Breaker
	Transport http.RoundTripper
	Logger    *zerolog.Logger
	Observer  Observer
}

// HTTPClient talks JSON to the CRUD backend.
type HTTPClient struct {
	base     *url.URL
	token    string
	http     resilience.HTTPClient
	observer Observer
}

// NewHTTPClient validates opts and builds a client. Outbound requests are
// traced through otelhttp.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("backend: base url required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend: unsupported scheme %q", base.Scheme)
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &HTTPClient{
		base:  base,
		token: opts.Token,
		http: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker:     opts.Breaker,
			BaseBackoff: opts.RetryBase,
			MaxAttempts: 2,
			Jitter:      0.2,
			Timeout:     opts.Timeout,
			Target:      "pos_backend",
			Logger:      opts.Logger,
		},
		observer: observer,
	}, nil
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type errorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// SearchStock looks up products by name or code.
func (c *HTTPClient) SearchStock(ctx context.Context, term string) ([]StockEntry, error) {
	q := url.Values{}
	q.Set("search", term)
	var out []StockEntry
	if err := c.call(ctx, "search_stock", http.MethodGet, "product-stocks?"+q.Encode(), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSale submits a new sale.
func (c *HTTPClient) CreateSale(ctx context.Context, req SaleRequest) (Sale, error) {
	var headers http.Header
	if req.IdempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{req.IdempotencyKey}}
	}
	var out Sale
	err := c.call(ctx, "create_sale", http.MethodPost, "sales", req, headers, &out)
	return out, err
}

// UpdateSalePayment reconciles the payment on an existing sale.
func (c *HTTPClient) UpdateSalePayment(ctx context.Context, saleID string, upd PaymentUpdate) (Sale, error) {
	var out Sale
	err := c.call(ctx, "update_payment", http.MethodPut, "sales/"+url.PathEscape(saleID), upd, nil, &out)
	return out, err
}

// CollectDue records a due collection.
func (c *HTTPClient) CollectDue(ctx context.Context, dc DueCollection) error {
	return c.call(ctx, "collect_due", http.MethodPost, "sales/"+url.PathEscape(dc.SaleID)+"/due-collections", dc, nil, nil)
}

// Ping checks the backend health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", http.MethodGet, "health", nil, nil, nil)
}

func (c *HTTPClient) call(ctx context.Context, op, method, path string, in any, headers http.Header, out any) (err error) {
	start := time.Now()
	defer func() {
		c.observer.ObserveBackend(op, resultOf(err), float64(time.Since(start).Microseconds())/1000)
	}()

	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("backend %s: %w", op, err)
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend %s: encode: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), body)
	if err != nil {
		return fmt.Errorf("backend %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("backend %s: %w: %w", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("backend %s: read: %w: %w", op, ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return decodeFieldErrors(raw)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("backend %s: %w", op, ErrNotFound)
	case resp.StatusCode >= http.StatusBadRequest:
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return &StatusError{StatusCode: resp.StatusCode, Message: eb.Message}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("backend %s: decode: %w", op, err)
	}
	return nil
}

// decodeFieldErrors turns a 422 body into the shared field error surface. A
// body without per-field errors is reported under the general key.
func decodeFieldErrors(raw []byte) error {
	var eb errorBody
	fields := common.FieldErrors{}
	if err := json.Unmarshal(raw, &eb); err != nil {
		fields.Add(common.GeneralField, "the backend rejected the request")
		return fields
	}
	for field, msgs := range eb.Errors {
		for _, msg := range msgs {
			fields.Add(field, msg)
		}
	}
	if fields.Empty() {
		msg := eb.Message
		if msg == "" {
			msg = "the backend rejected the request"
		}
		fields.Add(common.GeneralField, msg)
	}
	return fields
}
