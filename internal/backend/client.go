package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/pos-kasir/internal/common"
)

// Client is the set of backend calls the POS flow depends on.
type Client interface {
	SearchStock(ctx context.Context, term string) ([]StockEntry, error)
	CreateSale(ctx context.Context, req SaleRequest) (Sale, error)
	UpdateSalePayment(ctx context.Context, saleID string, upd PaymentUpdate) (Sale, error)
	CollectDue(ctx context.Context, c DueCollection) error
	Ping(ctx context.Context) error
}

var (
	// ErrNotFound is returned when the backend does not know the sale.
	ErrNotFound = errors.New("backend: not found")
	// ErrUnavailable wraps transport failures, 5xx responses and an open
	// breaker.
	ErrUnavailable = errors.New("backend: unavailable")
)

// StatusError is a non-validation 4xx answer.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend: status %d: %s", e.StatusCode, e.Message)
}

// Observer receives call latencies. obs.DomainMetrics implements it.
type Observer interface {
	ObserveBackend(operation, result string, millis float64)
}

type nopObserver struct{}

func (nopObserver) ObserveBackend(string, string, float64) {}

// Result labels used for observations.
const (
	ResultOK          = "ok"
	ResultRejected    = "rejected"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

func resultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrUnavailable):
		return ResultUnavailable
	case errors.Is(err, ErrNotFound):
		return ResultRejected
	}
	var status *StatusError
	if errors.As(err, &status) {
		return ResultRejected
	}
	var fields common.FieldReporter
	if errors.As(err, &fields) {
		return ResultRejected
	}
	return ResultError
}
