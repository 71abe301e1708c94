// Package sale drives a cashier's cart from the first scan to the submitted
// sale, and reconciles payment and due against sales that already exist.
package sale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-kasir/internal/backend"
	"github.com/noah-isme/pos-kasir/internal/cart"
	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/due"
	"github.com/noah-isme/pos-kasir/internal/lock"
	"github.com/noah-isme/pos-kasir/internal/pricing"
	"github.com/noah-isme/pos-kasir/internal/session"
)

// ErrSubmitInFlight is returned while another submission of the same session
// is still waiting on the backend.
var ErrSubmitInFlight = errors.New("sale: submission already in progress")

// errSkipSave ends a Store.Update without writing.
var errSkipSave = errors.New("sale: read only")

const (
	DefaultSubmitLockTTL = 30 * time.Second
	submitLockPrefix     = "pos:submit:"
	dateLayout           = "2006-01-02"
)

// Outcome labels for the submission and collection counters.
const (
	ResultOK       = "ok"
	ResultInvalid  = "invalid"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
	ResultInFlight = "in_flight"
)

// Store persists cart sessions. *session.RedisStore satisfies it.
type Store interface {
	Create(ctx context.Context, cashierID string, c *cart.Cart) (*session.Session, error)
	Load(ctx context.Context, cashierID, id string) (*session.Session, error)
	Update(ctx context.Context, cashierID, id string, fn func(*session.Session) error) (*session.Session, error)
	Delete(ctx context.Context, cashierID, id string) error
}

// Guard hands out non-blocking leases. lock.Locker satisfies it.
type Guard interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, error)
	Held(ctx context.Context, key string) (bool, error)
}

// Recorder counts outcomes. *obs.DomainMetrics satisfies it.
type Recorder interface {
	SaleSubmitted(result string)
	DueCollected(result string)
}

type nopRecorder struct{}

func (nopRecorder) SaleSubmitted(string) {}
func (nopRecorder) DueCollected(string)  {}

// Config holds the defaults applied to new sessions.
type Config struct {
	Channel       cart.Channel
	PaidPolicy    cart.PaidPolicy
	SubmitLockTTL time.Duration
}

// Service implements the cashier workflow on top of a session store and the
// sales backend.
type Service struct {
	Store   Store
	Guard   Guard
	Backend backend.Client
	Metrics Recorder
	Logger  zerolog.Logger
	Config  Config
	Now     func() time.Time
}

// EditInput changes one row. Nil fields are left alone.
type EditInput struct {
	Quantity  *int
	UnitPrice *pricing.Money
}

// RatesInput changes the cart rates. Nil fields are left alone.
type RatesInput struct {
	VatRate      *pricing.Money
	DiscountRate *pricing.Money
}

// SubmitInput carries the sale header entered at the till.
type SubmitInput struct {
	CustomerID    string
	CustomerName  string
	CustomerPhone string
	Date          string
	Note          string
	PaidAmount    *pricing.Money
}

// Receipt is the result of a successful submission.
type Receipt struct {
	SessionID  string
	Sale       backend.Sale
	Settlement cart.Settlement
}

// PaymentInput reconciles the payment of an existing sale.
type PaymentInput struct {
	GrandTotal  pricing.Money
	PaidAmount  pricing.Money
	PaymentType string
}

// PaymentResult is the outcome of a payment update.
type PaymentResult struct {
	Sale      backend.Sale
	DueAmount pricing.Money
}

// Tender is one payment offered against a due.
type Tender struct {
	System string
	Amount pricing.Money
}

// DueInput describes a due collection.
type DueInput struct {
	GrandTotal  pricing.Money
	AlreadyPaid pricing.Money
	Payments    []Tender
	Trim        bool
}

// Collection is the outcome of a successful due collection.
type Collection struct {
	SaleID   string
	Payments []due.Payment
	Result   due.Result
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) metrics() Recorder {
	if s.Metrics == nil {
		return nopRecorder{}
	}
	return s.Metrics
}

// log prefers the request logger so lines carry the request id.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}

// Open starts an empty session. An empty channel uses the configured default.
func (s *Service) Open(ctx context.Context, cashierID, channel string) (*session.Session, error) {
	ch := s.Config.Channel
	if strings.TrimSpace(channel) != "" {
		parsed, err := cart.ParseChannel(channel)
		if err != nil {
			return nil, err
		}
		ch = parsed
	}
	sess, err := s.Store.Create(ctx, cashierID, cart.New(ch, s.Config.PaidPolicy))
	if err != nil {
		return nil, err
	}
	s.log(ctx).Debug().Str("session_id", sess.ID).Str("channel", string(ch)).Msg("cart session opened")
	return sess, nil
}

// View loads a session.
func (s *Service) View(ctx context.Context, cashierID, id string) (*session.Session, error) {
	return s.Store.Load(ctx, cashierID, id)
}

// Discard drops a session and its cart.
func (s *Service) Discard(ctx context.Context, cashierID, id string) error {
	return s.Store.Delete(ctx, cashierID, id)
}

// SearchStock looks up products by name or code. Bangla digits in the term
// are accepted.
func (s *Service) SearchStock(ctx context.Context, term string) ([]backend.StockEntry, error) {
	term = strings.TrimSpace(common.ASCIIDigits(term))
	if term == "" {
		return nil, common.NewValidationError("search", "search term is required")
	}
	return s.Backend.SearchStock(ctx, term)
}

// mutate applies fn under the session lock and refuses to touch a cart whose
// submission is waiting on the backend. Submit loads under the same lock after
// taking its guard, so a change is either part of the sale or rejected.
func (s *Service) mutate(ctx context.Context, cashierID, id string, fn func(*session.Session) error) (*session.Session, error) {
	return s.Store.Update(ctx, cashierID, id, func(sess *session.Session) error {
		held, err := s.Guard.Held(ctx, submitLockPrefix+id)
		if err != nil {
			return fmt.Errorf("check submit guard: %w", err)
		}
		if held {
			return ErrSubmitInFlight
		}
		return fn(sess)
	})
}

// AddProduct puts a product in the cart. Scanning a product that is already
// there bumps its quantity by one and refreshes its stock snapshot without
// moving the row. It returns the index of the affected row.
func (s *Service) AddProduct(ctx context.Context, cashierID, id string, p cart.Product) (*session.Session, int, error) {
	index := -1
	sess, err := s.mutate(ctx, cashierID, id, func(sess *session.Session) error {
		c := sess.Cart
		key := cart.ItemKey{ProductID: strings.TrimSpace(p.ProductID), VariantID: p.VariantID}
		if idx := c.IndexOf(key); idx >= 0 {
			item, err := c.At(idx)
			if err != nil {
				return err
			}
			if p.Stock >= 0 {
				item.AvailableStock = p.Stock
			}
			if err := item.SetQuantity(item.Quantity() + 1); err != nil {
				return err
			}
			c.AddOrUpdate(item)
			index = idx
			return nil
		}
		item, err := cart.NewLineItem(p, c.Channel())
		if err != nil {
			return err
		}
		c.AddOrUpdate(item)
		index = c.Len() - 1
		return nil
	})
	if err != nil {
		return nil, -1, err
	}
	return sess, index, nil
}

// EditItem changes the quantity and/or price of the row at index. Either both
// changes apply or neither does.
func (s *Service) EditItem(ctx context.Context, cashierID, id string, index int, in EditInput) (*session.Session, error) {
	if in.Quantity == nil && in.UnitPrice == nil {
		return nil, common.NewValidationError(common.GeneralField, "nothing to change")
	}
	return s.mutate(ctx, cashierID, id, func(sess *session.Session) error {
		if _, err := sess.Cart.At(index); err != nil {
			return err
		}
		var errs []error
		if in.Quantity != nil {
			errs = append(errs, sess.Cart.SetQuantityAt(index, *in.Quantity))
		}
		if in.UnitPrice != nil {
			errs = append(errs, sess.Cart.SetUnitPriceAt(index, *in.UnitPrice))
		}
		return errors.Join(errs...)
	})
}

// RemoveItem deletes the row at index; later rows move up by one.
func (s *Service) RemoveItem(ctx context.Context, cashierID, id string, index int) (*session.Session, error) {
	return s.mutate(ctx, cashierID, id, func(sess *session.Session) error {
		return sess.Cart.RemoveAt(index)
	})
}

// SetRates changes VAT and/or discount. An out-of-range value rejects the
// whole change.
func (s *Service) SetRates(ctx context.Context, cashierID, id string, in RatesInput) (*session.Session, error) {
	if in.VatRate == nil && in.DiscountRate == nil {
		return nil, common.NewValidationError(common.GeneralField, "nothing to change")
	}
	return s.mutate(ctx, cashierID, id, func(sess *session.Session) error {
		var errs []error
		if in.VatRate != nil {
			errs = append(errs, sess.Cart.SetVatRate(*in.VatRate))
		}
		if in.DiscountRate != nil {
			errs = append(errs, sess.Cart.SetDiscountRate(*in.DiscountRate))
		}
		return errors.Join(errs...)
	})
}

// Submit turns the session into a sale. Local problems are reported together
// without calling the backend. A backend rejection keeps the session so the
// cashier can fix it and try again; success deletes it.
func (s *Service) Submit(ctx context.Context, cashierID, id string, in SubmitInput) (Receipt, error) {
	rec := s.metrics()
	lease, err := s.Guard.TryLock(ctx, submitLockPrefix+id, s.submitLockTTL())
	if errors.Is(err, lock.ErrHeld) {
		rec.SaleSubmitted(ResultInFlight)
		return Receipt{}, ErrSubmitInFlight
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("acquire submit guard: %w", err)
	}
	defer lease.Release(context.WithoutCancel(ctx))

	// Reading under the session lock waits out an edit that started before the
	// guard was taken.
	var sess *session.Session
	if _, err := s.Store.Update(ctx, cashierID, id, func(loaded *session.Session) error {
		sess = loaded
		return errSkipSave
	}); err != nil && !errors.Is(err, errSkipSave) {
		return Receipt{}, err
	}
	c := sess.Cart

	var problems []error
	if err := c.ValidateForSubmission(); err != nil {
		problems = append(problems, err)
	}
	date, err := s.saleDate(in.Date)
	if err != nil {
		problems = append(problems, err)
	}
	settlement, err := c.Settle(in.PaidAmount)
	if err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		rec.SaleSubmitted(ResultInvalid)
		return Receipt{}, errors.Join(problems...)
	}

	req := buildSaleRequest(c, settlement, in, date)
	req.IdempotencyKey = idempotencyKey(sess.ID, req)

	sale, err := s.Backend.CreateSale(ctx, req)
	if err != nil {
		var reporter common.FieldReporter
		if errors.As(err, &reporter) {
			rec.SaleSubmitted(ResultRejected)
		} else {
			rec.SaleSubmitted(ResultFailed)
		}
		return Receipt{}, err
	}
	rec.SaleSubmitted(ResultOK)

	if err := s.Store.Delete(ctx, cashierID, id); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.log(ctx).Warn().Err(err).Str("session_id", id).Msg("drop submitted cart session")
	}
	s.log(ctx).Info().
		Str("session_id", id).
		Str("sale_id", string(sale.ID)).
		Str("grand_total", settlement.GrandTotal.StringFixed(2)).
		Str("due", settlement.DueAmount.StringFixed(2)).
		Msg("sale submitted")
	return Receipt{SessionID: id, Sale: sale, Settlement: settlement}, nil
}

func (s *Service) submitLockTTL() time.Duration {
	if s.Config.SubmitLockTTL > 0 {
		return s.Config.SubmitLockTTL
	}
	return DefaultSubmitLockTTL
}

// saleDate defaults to today and otherwise requires YYYY-MM-DD, Bangla digits
// allowed.
func (s *Service) saleDate(value string) (string, error) {
	value = strings.TrimSpace(common.ASCIIDigits(value))
	if value == "" {
		return s.now().Format(dateLayout), nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return "", common.NewValidationError("date", "must be a date in YYYY-MM-DD form")
	}
	return t.Format(dateLayout), nil
}

func buildSaleRequest(c *cart.Cart, st cart.Settlement, in SubmitInput, date string) backend.SaleRequest {
	items := c.Items()
	lines := make([]backend.SaleItem, 0, len(items))
	for _, it := range items {
		lines = append(lines, backend.SaleItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity(),
			UnitPrice: backend.AmountOf(it.EffectiveUnitPrice()),
			LineTotal: backend.AmountOf(it.LineTotal()),
		})
	}
	return backend.SaleRequest{
		CustomerID:    strings.TrimSpace(in.CustomerID),
		CustomerName:  strings.TrimSpace(in.CustomerName),
		CustomerPhone: strings.TrimSpace(common.ASCIIDigits(in.CustomerPhone)),
		Date:          date,
		Note:          strings.TrimSpace(in.Note),
		Items:         lines,
		VatRate:       backend.AmountOf(c.VatRate()),
		DiscountRate:  backend.AmountOf(c.DiscountRate()),
		SubTotal:      backend.AmountOf(st.SubTotal),
		GrandTotal:    backend.AmountOf(st.GrandTotal),
		PaidAmount:    backend.AmountOf(st.PaidAmount),
		DueAmount:     backend.AmountOf(st.DueAmount),
		Channel:       string(c.Channel()),
	}
}

// idempotencyKey is stable for the same session and payload, so a resubmit
// after a lost response cannot create a second sale.
func idempotencyKey(sessionID string, req backend.SaleRequest) string {
	payload, err := json.Marshal(req)
	if err != nil {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, append([]byte(sessionID+":"), payload...)).String()
}

// UpdatePayment reconciles the paid amount of an existing sale. The due is
// round2(grand) - round2(paid), never below zero.
func (s *Service) UpdatePayment(ctx context.Context, saleID string, in PaymentInput) (PaymentResult, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return PaymentResult{}, common.NewValidationError("sale_id", "sale is required")
	}
	var errs []error
	if in.GrandTotal.IsNegative() {
		errs = append(errs, common.NewValidationError("grand_total", "must not be negative"))
	}
	if in.PaidAmount.IsNegative() {
		errs = append(errs, common.NewValidationError("paid_amount", "must not be negative"))
	}
	system, err := due.ParsePaymentSystem(in.PaymentType)
	if err != nil {
		errs = append(errs, common.NewValidationError("payment_type", fmt.Sprintf("unknown payment type %q", in.PaymentType)))
	}
	if len(errs) > 0 {
		return PaymentResult{}, errors.Join(errs...)
	}

	grand := pricing.Round2(in.GrandTotal)
	paid := pricing.Round2(in.PaidAmount)
	dueAmount := pricing.MaxZero(grand.Sub(paid))
	sale, err := s.Backend.UpdateSalePayment(ctx, saleID, backend.PaymentUpdate{
		GrandTotal:  backend.AmountOf(grand),
		PaidAmount:  backend.AmountOf(paid),
		DueAmount:   backend.AmountOf(dueAmount),
		PaymentType: string(system),
	})
	if err != nil {
		return PaymentResult{}, err
	}
	s.log(ctx).Info().
		Str("sale_id", saleID).
		Str("paid", paid.StringFixed(2)).
		Str("due", dueAmount.StringFixed(2)).
		Msg("sale payment updated")
	return PaymentResult{Sale: sale, DueAmount: dueAmount}, nil
}

// PreviewDue computes the due a collection would leave. An overpayment
// without trim is reported on the result, not as an error.
func (s *Service) PreviewDue(in DueInput) (due.Result, []due.Payment, error) {
	alloc, err := allocate(in)
	if err != nil {
		return due.Result{}, nil, err
	}
	return due.ComputeDue(in.GrandTotal, in.AlreadyPaid, alloc, in.Trim), alloc.Payments(), nil
}

// CollectDue records payments against the outstanding due of a sale. Without
// trim an overpayment is rejected on the payments field.
func (s *Service) CollectDue(ctx context.Context, saleID string, in DueInput) (Collection, error) {
	rec := s.metrics()
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return Collection{}, common.NewValidationError("sale_id", "sale is required")
	}
	if len(in.Payments) == 0 {
		rec.DueCollected(ResultInvalid)
		return Collection{}, common.NewValidationError("payments", "at least one payment is required")
	}
	alloc, err := allocate(in)
	if err != nil {
		rec.DueCollected(ResultInvalid)
		return Collection{}, err
	}
	if !alloc.TotalAllocated().IsPositive() {
		rec.DueCollected(ResultInvalid)
		return Collection{}, common.NewValidationError("payments", "tendered amount must be greater than 0")
	}
	res := due.ComputeDue(in.GrandTotal, in.AlreadyPaid, alloc, in.Trim)
	if res.Overpayment {
		rec.DueCollected(ResultInvalid)
		return Collection{}, common.FieldErrors{
			"payments": {fmt.Sprintf("tendered amount exceeds the due by %s", res.Overpaid.StringFixed(2))},
		}
	}

	outstanding := pricing.MaxZero(pricing.Round2(in.GrandTotal.Sub(in.AlreadyPaid)))
	err = s.Backend.CollectDue(ctx, backend.DueCollection{
		SaleID:    saleID,
		DueAmount: backend.AmountOf(outstanding),
		Payments:  backend.DuePaymentsFrom(alloc),
		Trim:      in.Trim,
	})
	if err != nil {
		var reporter common.FieldReporter
		if errors.As(err, &reporter) {
			rec.DueCollected(ResultRejected)
		} else {
			rec.DueCollected(ResultFailed)
		}
		return Collection{}, err
	}
	rec.DueCollected(ResultOK)
	s.log(ctx).Info().
		Str("sale_id", saleID).
		Str("tendered", alloc.TotalAllocated().StringFixed(2)).
		Str("due", res.Due.StringFixed(2)).
		Bool("trimmed", res.Trimmed).
		Msg("due collected")
	return Collection{SaleID: saleID, Payments: alloc.Payments(), Result: res}, nil
}

func allocate(in DueInput) (due.Allocation, error) {
	var errs []error
	if in.GrandTotal.IsNegative() {
		errs = append(errs, common.NewValidationError("grand_total", "must not be negative"))
	}
	if in.AlreadyPaid.IsNegative() {
		errs = append(errs, common.NewValidationError("already_paid", "must not be negative"))
	}
	var alloc due.Allocation
	for i, t := range in.Payments {
		system, err := due.ParsePaymentSystem(t.System)
		if err != nil {
			errs = append(errs, common.NewValidationError(fmt.Sprintf("payments.%d.system", i), fmt.Sprintf("unknown payment system %q", t.System)))
			continue
		}
		if err := alloc.Allocate(system, t.Amount); err != nil {
			var dup *due.DuplicateSystemError
			if errors.As(err, &dup) {
				errs = append(errs, err)
				continue
			}
			errs = append(errs, common.NewValidationError(fmt.Sprintf("payments.%d.amount", i), "must not be negative"))
		}
	}
	return alloc, errors.Join(errs...)
}
