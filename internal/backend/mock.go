package backend

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockClient is an in-memory backend for local runs and tests. It keeps every
// request it receives so callers can assert on them.
type MockClient struct {
	mu          sync.Mutex
	stock       []StockEntry
	sales       map[string]Sale
	byKey       map[string]string
	requests    []SaleRequest
	payments    map[string]PaymentUpdate
	collections []DueCollection
	nextID      int
	failNext    error
}

// NewMockClient seeds the mock with stock rows.
func NewMockClient(stock ...StockEntry) *MockClient {
	return &MockClient{
		stock:    stock,
		sales:    map[string]Sale{},
		byKey:    map[string]string{},
		payments: map[string]PaymentUpdate{},
		nextID:   1000,
	}
}

// FailNext makes the next write call return err.
func (m *MockClient) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MockClient) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

// SearchStock matches term against product name and code, case-insensitively.
func (m *MockClient) SearchStock(ctx context.Context, term string) ([]StockEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(strings.TrimSpace(term))
	out := []StockEntry{}
	for _, e := range m.stock {
		if needle == "" ||
			strings.Contains(strings.ToLower(e.Product.Name), needle) ||
			strings.Contains(strings.ToLower(e.Product.Code), needle) {
			out = append(out, e)
		}
	}
	return out, nil
}

// CreateSale records req. Repeating an idempotency key returns the first sale.
func (m *MockClient) CreateSale(ctx context.Context, req SaleRequest) (Sale, error) {
	if err := ctx.Err(); err != nil {
		return Sale{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return Sale{}, err
	}
	if id, ok := m.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return m.sales[id], nil
	}
	m.nextID++
	id := strconv.Itoa(m.nextID)
	sale := Sale{
		ID:         ID(id),
		InvoiceNo:  "INV-" + id,
		Date:       req.Date,
		GrandTotal: req.GrandTotal,
		PaidAmount: req.PaidAmount,
		DueAmount:  req.DueAmount,
	}
	if sale.Date == "" {
		sale.Date = time.Now().Format("2006-01-02")
	}
	m.sales[id] = sale
	if req.IdempotencyKey != "" {
		m.byKey[req.IdempotencyKey] = id
	}
	m.requests = append(m.requests, req)
	return sale, nil
}

// UpdateSalePayment applies upd to a recorded sale.
func (m *MockClient) UpdateSalePayment(ctx context.Context, saleID string, upd PaymentUpdate) (Sale, error) {
	if err := ctx.Err(); err != nil {
		return Sale{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return Sale{}, err
	}
	sale, ok := m.sales[saleID]
	if !ok {
		return Sale{}, ErrNotFound
	}
	sale.GrandTotal = upd.GrandTotal
	sale.PaidAmount = upd.PaidAmount
	sale.DueAmount = upd.DueAmount
	sale.PaymentType = upd.PaymentType
	m.sales[saleID] = sale
	m.payments[saleID] = upd
	return sale, nil
}

// CollectDue records dc against a known sale.
func (m *MockClient) CollectDue(ctx context.Context, dc DueCollection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	if _, ok := m.sales[dc.SaleID]; !ok {
		return ErrNotFound
	}
	m.collections = append(m.collections, dc)
	return nil
}

// Ping always succeeds unless ctx is done.
func (m *MockClient) Ping(ctx context.Context) error { return ctx.Err() }

// Sales returns the recorded sale requests.
func (m *MockClient) Sales() []SaleRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SaleRequest(nil), m.requests...)
}

// Collections returns the recorded due collections.
func (m *MockClient) Collections() []DueCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DueCollection(nil), m.collections...)
}

// PaymentUpdate returns the last payment update for saleID.
func (m *MockClient) PaymentUpdate(saleID string) (PaymentUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	upd, ok := m.payments[saleID]
	return upd, ok
}

var _ Client = (*MockClient)(nil)
var _ Client = (*HTTPClient)(nil)
