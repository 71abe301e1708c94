package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/pricing"
)

// PaidPolicy names how the paid amount is defaulted when the cashier does not
// enter one.
type PaidPolicy string

const (
	// PaidInFull assumes the grand total was paid at creation.
	PaidInFull PaidPolicy = "paid_in_full"
	// PaidAsTendered records only what was entered, zero when nothing was.
	PaidAsTendered PaidPolicy = "as_tendered"
)

// ParsePaidPolicy validates a policy name. Empty input selects PaidInFull.
func ParsePaidPolicy(value string) (PaidPolicy, error) {
	switch PaidPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PaidInFull:
		return PaidInFull, nil
	case PaidAsTendered:
		return PaidAsTendered, nil
	default:
		return "", common.NewValidationError("paid_policy", fmt.Sprintf("unknown paid policy %q", value))
	}
}

// Totals are the derived amounts of a cart.
type Totals = pricing.Summary

// Settlement extends Totals with the paid and due amounts.
type Settlement struct {
	Totals
	PaidAmount pricing.Money
	DueAmount  pricing.Money
	Policy     PaidPolicy
}

var maxRate = decimal.NewFromInt(100)

// Cart is the ordered set of line items for one sale being built. Positions
// are meaningful: edits and removals address rows by index, and removal
// shifts every later row down by one.
type Cart struct {
	items        []LineItem
	vatRate      pricing.Money
	discountRate pricing.Money
	channel      Channel
	paidPolicy   PaidPolicy
}

// New returns an empty cart for the given channel and paid policy.
func New(channel Channel, policy PaidPolicy) *Cart {
	if channel == "" {
		channel = ChannelNormal
	}
	if policy == "" {
		policy = PaidInFull
	}
	return &Cart{channel: channel, paidPolicy: policy}
}

// Channel returns the sale channel.
func (c *Cart) Channel() Channel { return c.channel }

// PaidPolicy returns the paid default policy.
func (c *Cart) PaidPolicy() PaidPolicy { return c.paidPolicy }

// VatRate returns the VAT percentage.
func (c *Cart) VatRate() pricing.Money { return c.vatRate }

// DiscountRate returns the discount percentage.
func (c *Cart) DiscountRate() pricing.Money { return c.discountRate }

// Len returns the number of rows.
func (c *Cart) Len() int { return len(c.items) }

// Items returns a copy of the rows in display order.
func (c *Cart) Items() []LineItem {
	out := make([]LineItem, len(c.items))
	copy(out, c.items)
	return out
}

// At returns the row at index i.
func (c *Cart) At(i int) (LineItem, error) {
	if err := c.checkIndex(i); err != nil {
		return LineItem{}, err
	}
	return c.items[i], nil
}

// IndexOf returns the position of the row with the given key or -1.
func (c *Cart) IndexOf(key ItemKey) int {
	key.VariantID = NormalizeVariantID(key.VariantID)
	for i, it := range c.items {
		if it.Key() == key {
			return i
		}
	}
	return -1
}

// AddOrUpdate replaces the row with the same product/variant in place or
// appends a new one, and returns the resulting rows.
func (c *Cart) AddOrUpdate(item LineItem) []LineItem {
	item.VariantID = NormalizeVariantID(item.VariantID)
	if idx := c.IndexOf(item.Key()); idx >= 0 {
		c.items[idx] = item
	} else {
		c.items = append(c.items, item)
	}
	return c.Items()
}

// RemoveAt deletes the row at index i.
func (c *Cart) RemoveAt(i int) error {
	if err := c.checkIndex(i); err != nil {
		return err
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	return nil
}

// SetQuantityAt changes the quantity of the row at index i.
func (c *Cart) SetQuantityAt(i, n int) error {
	if err := c.checkIndex(i); err != nil {
		return err
	}
	item := c.items[i]
	if err := item.SetQuantity(n); err != nil {
		return err
	}
	c.items[i] = item
	return nil
}

// SetUnitPriceAt changes the effective price of the row at index i.
func (c *Cart) SetUnitPriceAt(i int, p pricing.Money) error {
	if err := c.checkIndex(i); err != nil {
		return err
	}
	item := c.items[i]
	if err := item.SetEffectiveUnitPrice(p); err != nil {
		return err
	}
	c.items[i] = item
	return nil
}

// SetVatRate sets the VAT percentage. Values outside [0,100] are rejected and
// the previous rate is kept.
func (c *Cart) SetVatRate(r pricing.Money) error {
	if err := checkRate("vat_rate", r); err != nil {
		return err
	}
	c.vatRate = r
	return nil
}

// SetDiscountRate sets the discount percentage. Values outside [0,100] are
// rejected and the previous rate is kept.
func (c *Cart) SetDiscountRate(r pricing.Money) error {
	if err := checkRate("discount_rate", r); err != nil {
		return err
	}
	c.discountRate = r
	return nil
}

func checkRate(field string, r pricing.Money) error {
	if r.IsNegative() || r.GreaterThan(maxRate) {
		return common.NewValidationError(field, "must be between 0 and 100")
	}
	return nil
}

// ComputeTotals derives subtotal, VAT, discount and grand total from the
// current rows and rates. It does not modify the cart.
func (c *Cart) ComputeTotals() Totals {
	items := make([]pricing.Item, 0, len(c.items))
	for _, it := range c.items {
		items = append(items, pricing.Item{Qty: it.quantity, UnitPrice: it.effectiveUnitPrice})
	}
	return pricing.Compute(items, c.vatRate, c.discountRate)
}

// Settle applies the paid policy. A tendered amount, when given, always wins
// over the policy default; due never goes below zero.
func (c *Cart) Settle(tendered *pricing.Money) (Settlement, error) {
	totals := c.ComputeTotals()
	var paid pricing.Money
	switch {
	case tendered != nil:
		if tendered.IsNegative() {
			return Settlement{}, common.NewValidationError("paid_amount", "must not be negative")
		}
		paid = pricing.Round2(*tendered)
	case c.paidPolicy == PaidAsTendered:
		paid = decimal.Zero
	default:
		paid = totals.GrandTotal
	}
	return Settlement{
		Totals:     totals,
		PaidAmount: paid,
		DueAmount:  pricing.MaxZero(totals.GrandTotal.Sub(paid)),
		Policy:     c.paidPolicy,
	}, nil
}

// ValidateForSubmission checks the cart can be sent as a sale. Every row is
// checked before reporting, so the result can carry both an
// InvalidLineItemError and a StockExceededError joined together.
func (c *Cart) ValidateForSubmission() error {
	if len(c.items) == 0 {
		return EmptyCartError{}
	}
	var invalid, exceeded []ItemIssue
	for i, it := range c.items {
		if it.quantity <= 0 {
			invalid = append(invalid, issue(i, it, "quantity must be at least 1"))
		}
		if !it.effectiveUnitPrice.IsPositive() {
			invalid = append(invalid, issue(i, it, "price must be greater than 0"))
		}
		if it.quantity > it.AvailableStock {
			exceeded = append(exceeded, issue(i, it, fmt.Sprintf("quantity %d exceeds available stock %d", it.quantity, it.AvailableStock)))
		}
	}
	var errs []error
	if len(invalid) > 0 {
		errs = append(errs, &InvalidLineItemError{Items: invalid})
	}
	if len(exceeded) > 0 {
		errs = append(errs, &StockExceededError{Items: exceeded})
	}
	return errors.Join(errs...)
}

func issue(i int, it LineItem, reason string) ItemIssue {
	return ItemIssue{
		Index:          i,
		ProductID:      it.ProductID,
		VariantID:      it.VariantID,
		Name:           it.DisplayName,
		Quantity:       it.quantity,
		UnitPrice:      it.effectiveUnitPrice,
		AvailableStock: it.AvailableStock,
		Reason:         reason,
	}
}

func (c *Cart) checkIndex(i int) error {
	if i < 0 || i >= len(c.items) {
		return &IndexError{Index: i, Len: len(c.items)}
	}
	return nil
}
