package sale_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-kasir/internal/backend"
	"github.com/noah-isme/pos-kasir/internal/cart"
	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/lock"
	"github.com/noah-isme/pos-kasir/internal/pricing"
	"github.com/noah-isme/pos-kasir/internal/sale"
	"github.com/noah-isme/pos-kasir/internal/session"
)

type countingRecorder struct {
	mu    sync.Mutex
	sales map[string]int
	dues  map[string]int
}

func newRecorder() *countingRecorder {
	return &countingRecorder{sales: map[string]int{}, dues: map[string]int{}}
}

func (r *countingRecorder) SaleSubmitted(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales[result]++
}

func (r *countingRecorder) DueCollected(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dues[result]++
}

type fixture struct {
	svc    *sale.Service
	mock   *backend.MockClient
	locker lock.Locker
	rec    *countingRecorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mock := backend.NewMockClient(
		backend.StockEntry{
			ID:        "11",
			Quantity:  10,
			SalePrice: backend.AmountOf(decimal.NewFromInt(450)),
			Product:   backend.StockProduct{ID: "1", Name: "Rice 5kg", Code: "R5"},
		},
	)
	locker := lock.Locker{R: client}
	rec := newRecorder()
	svc := &sale.Service{
		Store:   session.NewRedisStore(client, time.Hour),
		Guard:   locker,
		Backend: mock,
		Metrics: rec,
		Config:  sale.Config{Channel: cart.ChannelNormal, PaidPolicy: cart.PaidInFull},
		Now:     func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) },
	}
	return fixture{svc: svc, mock: mock, locker: locker, rec: rec}
}

func money(s string) pricing.Money { return decimal.RequireFromString(s) }

func product(id string, price string, stock int) cart.Product {
	return cart.Product{ProductID: id, Name: "Product " + id, SalePrice: money(price), Stock: stock}
}

func TestAddProductBumpsExistingRowInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)

	_, idx, err := f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 10))
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	_, idx, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("2", "20", 3))
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	got, idx, err := f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 7))
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	items := got.Cart.Items()
	require.Len(t, items, 2)
	require.Equal(t, "1", items[0].ProductID)
	require.Equal(t, 2, items[0].Quantity())
	require.Equal(t, 7, items[0].AvailableStock)
	require.True(t, items[0].LineTotal().Equal(money("900")))
}

func TestShadowChannelPricesNewRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "shadow")
	require.NoError(t, err)

	shadow := money("400")
	p := product("1", "450", 10)
	p.ShadowSalePrice = &shadow
	got, _, err := f.svc.AddProduct(ctx, "c1", sess.ID, p)
	require.NoError(t, err)
	require.True(t, got.Cart.Items()[0].EffectiveUnitPrice().Equal(shadow))

	got, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("2", "25", 10))
	require.NoError(t, err)
	require.True(t, got.Cart.Items()[1].EffectiveUnitPrice().Equal(money("25")))

	_, err = f.svc.Open(ctx, "c1", "wholesale")
	require.Error(t, err)
}

func TestEditItemAppliesAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)
	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 10))
	require.NoError(t, err)

	qty := 3
	bad := money("-1")
	_, err = f.svc.EditItem(ctx, "c1", sess.ID, 0, sale.EditInput{Quantity: &qty, UnitPrice: &bad})
	require.Error(t, err)
	require.Contains(t, common.FieldErrorsFrom(err), "unitPrice")

	got, err := f.svc.View(ctx, "c1", sess.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Cart.Items()[0].Quantity())

	price := money("430")
	got, err = f.svc.EditItem(ctx, "c1", sess.ID, 0, sale.EditInput{Quantity: &qty, UnitPrice: &price})
	require.NoError(t, err)
	require.True(t, got.Cart.Items()[0].LineTotal().Equal(money("1290")))

	_, err = f.svc.EditItem(ctx, "c1", sess.ID, 4, sale.EditInput{Quantity: &qty})
	var idxErr *cart.IndexError
	require.ErrorAs(t, err, &idxErr)

	_, err = f.svc.EditItem(ctx, "c1", sess.ID, 0, sale.EditInput{})
	require.Error(t, err)
}

func TestRemoveItemShiftsLaterRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product(id, "10", 5))
		require.NoError(t, err)
	}

	got, err := f.svc.RemoveItem(ctx, "c1", sess.ID, 0)
	require.NoError(t, err)
	items := got.Cart.Items()
	require.Len(t, items, 2)
	require.Equal(t, "b", items[0].ProductID)
	require.Equal(t, "c", items[1].ProductID)
}

func TestSetRatesRejectsOutOfRangeAndKeepsOldValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)

	vat := money("5")
	got, err := f.svc.SetRates(ctx, "c1", sess.ID, sale.RatesInput{VatRate: &vat})
	require.NoError(t, err)
	require.True(t, got.Cart.VatRate().Equal(vat))

	over := money("150")
	discount := money("10")
	_, err = f.svc.SetRates(ctx, "c1", sess.ID, sale.RatesInput{VatRate: &over, DiscountRate: &discount})
	require.Error(t, err)

	got, err = f.svc.View(ctx, "c1", sess.ID)
	require.NoError(t, err)
	require.True(t, got.Cart.VatRate().Equal(vat))
	require.True(t, got.Cart.DiscountRate().IsZero())
}

func TestSubmitReportsEveryLocalProblemWithoutCallingBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{})
	var empty cart.EmptyCartError
	require.ErrorAs(t, err, &empty)

	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 1))
	require.NoError(t, err)
	qty := 4
	_, err = f.svc.EditItem(ctx, "c1", sess.ID, 0, sale.EditInput{Quantity: &qty})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{Date: "09-03-2024"})
	require.Error(t, err)
	var exceeded *cart.StockExceededError
	require.ErrorAs(t, err, &exceeded)
	fields := common.FieldErrorsFrom(err)
	require.Contains(t, fields, "items")
	require.Contains(t, fields, "date")

	require.Empty(t, f.mock.Sales())
	require.Equal(t, 2, f.rec.sales[sale.ResultInvalid])
}

func TestSubmitCreatesSaleAndDropsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)
	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 10))
	require.NoError(t, err)
	qty := 2
	_, err = f.svc.EditItem(ctx, "c1", sess.ID, 0, sale.EditInput{Quantity: &qty})
	require.NoError(t, err)
	vat, discount := money("5"), money("10")
	_, err = f.svc.SetRates(ctx, "c1", sess.ID, sale.RatesInput{VatRate: &vat, DiscountRate: &discount})
	require.NoError(t, err)

	receipt, err := f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{CustomerName: " Rahim ", CustomerPhone: "০১৭১১"})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.Sale.ID)
	require.True(t, receipt.Settlement.GrandTotal.Equal(money("855")))
	require.True(t, receipt.Settlement.PaidAmount.Equal(money("855")))
	require.True(t, receipt.Settlement.DueAmount.IsZero())

	sent := f.mock.Sales()
	require.Len(t, sent, 1)
	req := sent[0]
	require.Equal(t, "2024-03-09", req.Date)
	require.Equal(t, "Rahim", req.CustomerName)
	require.Equal(t, "01711", req.CustomerPhone)
	require.Equal(t, "normal", req.Channel)
	require.NotEmpty(t, req.IdempotencyKey)
	require.Len(t, req.Items, 1)
	require.True(t, req.Items[0].LineTotal.Money().Equal(money("900")))
	require.True(t, req.SubTotal.Money().Equal(money("900")))
	require.True(t, req.VatRate.Money().Equal(vat))

	_, err = f.svc.View(ctx, "c1", sess.ID)
	require.ErrorIs(t, err, session.ErrNotFound)
	require.Equal(t, 1, f.rec.sales[sale.ResultOK])
}

func TestSubmitWithTenderedAmountLeavesDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)
	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 10))
	require.NoError(t, err)

	paid := money("200")
	receipt, err := f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{PaidAmount: &paid, Date: "২০২৪-০৩-১০"})
	require.NoError(t, err)
	require.True(t, receipt.Settlement.DueAmount.Equal(money("250")))
	require.Equal(t, "2024-03-10", f.mock.Sales()[0].Date)
}

func TestSubmitBackendRejectionKeepsCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)
	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 10))
	require.NoError(t, err)

	f.mock.FailNext(common.FieldErrors{"customer_phone": {"The customer phone format is invalid."}})
	_, err = f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{CustomerPhone: "x"})
	require.Error(t, err)
	require.Contains(t, common.FieldErrorsFrom(err), "customer_phone")

	got, err := f.svc.View(ctx, "c1", sess.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Cart.Len())
	require.Equal(t, 1, f.rec.sales[sale.ResultRejected])

	f.mock.FailNext(backend.ErrUnavailable)
	_, err = f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{})
	require.ErrorIs(t, err, backend.ErrUnavailable)
	require.Equal(t, 1, f.rec.sales[sale.ResultFailed])

	_, err = f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{})
	require.NoError(t, err)
}

func TestSubmitWhileInFlightIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)
	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 10))
	require.NoError(t, err)

	lease, err := f.locker.TryLock(ctx, "pos:submit:"+sess.ID, time.Minute)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{})
	require.ErrorIs(t, err, sale.ErrSubmitInFlight)
	require.Empty(t, f.mock.Sales())
	require.Equal(t, 1, f.rec.sales[sale.ResultInFlight])

	lease.Release(ctx)
	_, err = f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{})
	require.NoError(t, err)
}

func TestSubmitUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), "c1", "missing", sale.SubmitInput{})
	require.ErrorIs(t, err, session.ErrNotFound)
}

func createSale(t *testing.T, f fixture) string {
	t.Helper()
	s, err := f.mock.CreateSale(context.Background(), backend.SaleRequest{GrandTotal: backend.AmountOf(money("500"))})
	require.NoError(t, err)
	return string(s.ID)
}

func TestUpdatePaymentDerivesDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	saleID := createSale(t, f)

	res, err := f.svc.UpdatePayment(ctx, saleID, sale.PaymentInput{GrandTotal: money("500"), PaidAmount: money("199.995"), PaymentType: "bKash"})
	require.NoError(t, err)
	require.True(t, res.DueAmount.Equal(money("300")))
	upd, ok := f.mock.PaymentUpdate(saleID)
	require.True(t, ok)
	require.Equal(t, "bkash", upd.PaymentType)
	require.True(t, upd.PaidAmount.Money().Equal(money("200")))

	res, err = f.svc.UpdatePayment(ctx, saleID, sale.PaymentInput{GrandTotal: money("500"), PaidAmount: money("600"), PaymentType: "cash"})
	require.NoError(t, err)
	require.True(t, res.DueAmount.IsZero())

	_, err = f.svc.UpdatePayment(ctx, saleID, sale.PaymentInput{GrandTotal: money("-1"), PaidAmount: money("0"), PaymentType: "cheque"})
	fields := common.FieldErrorsFrom(err)
	require.Contains(t, fields, "grand_total")
	require.Contains(t, fields, "payment_type")

	_, err = f.svc.UpdatePayment(ctx, "999", sale.PaymentInput{GrandTotal: money("1"), PaidAmount: money("1"), PaymentType: "cash"})
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestPreviewDueSurfacesOverpayment(t *testing.T) {
	f := newFixture(t)
	in := sale.DueInput{GrandTotal: money("500"), Payments: []sale.Tender{{System: "cash", Amount: money("600")}}}

	res, payments, err := f.svc.PreviewDue(in)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.True(t, res.Overpayment)
	require.True(t, res.Due.Equal(money("-100")))
	require.True(t, res.Overpaid.Equal(money("100")))

	in.Trim = true
	res, _, err = f.svc.PreviewDue(in)
	require.NoError(t, err)
	require.False(t, res.Overpayment)
	require.True(t, res.Trimmed)
	require.True(t, res.Due.IsZero())

	in.Payments = []sale.Tender{{System: "cash", Amount: money("300")}}
	in.Trim = false
	res, _, err = f.svc.PreviewDue(in)
	require.NoError(t, err)
	require.True(t, res.Due.Equal(money("200")))
}

func TestCollectDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	saleID := createSale(t, f)

	over := sale.DueInput{
		GrandTotal:  money("500"),
		AlreadyPaid: money("100"),
		Payments: []sale.Tender{
			{System: "cash", Amount: money("300")},
			{System: "nagad", Amount: money("150")},
		},
	}
	_, err := f.svc.CollectDue(ctx, saleID, over)
	require.Error(t, err)
	require.Equal(t, []string{"tendered amount exceeds the due by 50.00"}, common.FieldErrorsFrom(err)["payments"])
	require.Empty(t, f.mock.Collections())

	over.Trim = true
	out, err := f.svc.CollectDue(ctx, saleID, over)
	require.NoError(t, err)
	require.True(t, out.Result.Due.IsZero())
	require.True(t, out.Result.Trimmed)

	sent := f.mock.Collections()
	require.Len(t, sent, 1)
	require.Equal(t, saleID, sent[0].SaleID)
	require.True(t, sent[0].DueAmount.Money().Equal(money("400")))
	require.Len(t, sent[0].Payments, 2)
	require.True(t, sent[0].Trim)
	require.Equal(t, 1, f.rec.dues[sale.ResultOK])
	require.Equal(t, 1, f.rec.dues[sale.ResultInvalid])
}

func TestCollectDueValidatesPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	saleID := createSale(t, f)

	_, err := f.svc.CollectDue(ctx, saleID, sale.DueInput{GrandTotal: money("500")})
	require.Contains(t, common.FieldErrorsFrom(err), "payments")

	_, err = f.svc.CollectDue(ctx, saleID, sale.DueInput{
		GrandTotal: money("500"),
		Payments: []sale.Tender{
			{System: "cash", Amount: money("100")},
			{System: "cash", Amount: money("50")},
			{System: "paypal", Amount: money("10")},
		},
	})
	fields := common.FieldErrorsFrom(err)
	require.Contains(t, fields, "payments")
	require.Contains(t, fields, "payments.2.system")

	_, err = f.svc.CollectDue(ctx, "999", sale.DueInput{GrandTotal: money("10"), Payments: []sale.Tender{{System: "card", Amount: money("10")}}})
	require.True(t, errors.Is(err, backend.ErrNotFound))
}

type slowBackend struct {
	*backend.MockClient
	entered chan struct{}
	release chan struct{}
}

func (b *slowBackend) CreateSale(ctx context.Context, req backend.SaleRequest) (backend.Sale, error) {
	close(b.entered)
	<-b.release
	return b.MockClient.CreateSale(ctx, req)
}

func TestCartIsFrozenWhileSubmitting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)
	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 10))
	require.NoError(t, err)

	slow := &slowBackend{MockClient: f.mock, entered: make(chan struct{}), release: make(chan struct{})}
	f.svc.Backend = slow

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{})
		done <- err
	}()
	<-slow.entered

	qty := 5
	_, err = f.svc.EditItem(ctx, "c1", sess.ID, 0, sale.EditInput{Quantity: &qty})
	require.ErrorIs(t, err, sale.ErrSubmitInFlight)
	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("2", "20", 3))
	require.ErrorIs(t, err, sale.ErrSubmitInFlight)
	_, err = f.svc.RemoveItem(ctx, "c1", sess.ID, 0)
	require.ErrorIs(t, err, sale.ErrSubmitInFlight)
	vat := money("5")
	_, err = f.svc.SetRates(ctx, "c1", sess.ID, sale.RatesInput{VatRate: &vat})
	require.ErrorIs(t, err, sale.ErrSubmitInFlight)

	close(slow.release)
	require.NoError(t, <-done)

	sent := f.mock.Sales()
	require.Len(t, sent, 1)
	require.Equal(t, 1, sent[0].Items[0].Quantity)
	require.True(t, sent[0].VatRate.Money().IsZero())

	_, err = f.svc.EditItem(ctx, "c1", sess.ID, 0, sale.EditInput{Quantity: &qty})
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestEditsResumeAfterFailedSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)
	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 10))
	require.NoError(t, err)

	f.mock.FailNext(backend.ErrUnavailable)
	_, err = f.svc.Submit(ctx, "c1", sess.ID, sale.SubmitInput{})
	require.ErrorIs(t, err, backend.ErrUnavailable)

	qty := 2
	got, err := f.svc.EditItem(ctx, "c1", sess.ID, 0, sale.EditInput{Quantity: &qty})
	require.NoError(t, err)
	require.Equal(t, 2, got.Cart.Items()[0].Quantity())
}

func TestRescanTakesFreshStockSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.svc.Open(ctx, "c1", "")
	require.NoError(t, err)
	_, _, err = f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 10))
	require.NoError(t, err)

	got, idx, err := f.svc.AddProduct(ctx, "c1", sess.ID, product("1", "450", 0))
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.Equal(t, 0, got.Cart.Items()[0].AvailableStock)
	require.True(t, got.Cart.Items()[0].StockWarning())
}
