package due

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/pricing"
)

// PaymentSystem is a settlement channel accepted for due collection.
type PaymentSystem string

const (
	Cash         PaymentSystem = "cash"
	Bkash        PaymentSystem = "bkash"
	Nagad        PaymentSystem = "nagad"
	Rocket       PaymentSystem = "rocket"
	Upay         PaymentSystem = "upay"
	BankTransfer PaymentSystem = "bank_transfer"
	Card         PaymentSystem = "card"
)

var systems = []PaymentSystem{Cash, Bkash, Nagad, Rocket, Upay, BankTransfer, Card}

// Systems lists every accepted payment system.
func Systems() []PaymentSystem {
	out := make([]PaymentSystem, len(systems))
	copy(out, systems)
	return out
}

// ParsePaymentSystem validates a payment system name.
func ParsePaymentSystem(value string) (PaymentSystem, error) {
	candidate := PaymentSystem(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range systems {
		if s == candidate {
			return s, nil
		}
	}
	return "", common.NewValidationError("payment_system", fmt.Sprintf("unknown payment system %q", value))
}

// DuplicateSystemError is returned when a payment system is allocated twice.
type DuplicateSystemError struct {
	System PaymentSystem
}

func (e *DuplicateSystemError) Error() string {
	return fmt.Sprintf("due: payment system %s already allocated", e.System)
}

// FieldErrors implements common.FieldReporter.
func (e *DuplicateSystemError) FieldErrors() common.FieldErrors {
	return common.FieldErrors{"payments": {fmt.Sprintf("%s is listed more than once", e.System)}}
}

// Payment is one tendered amount.
type Payment struct {
	System PaymentSystem `json:"system"`
	Amount pricing.Money `json:"amount"`
}

// Allocation is the set of payments tendered against a due, one per system.
type Allocation struct {
	payments []Payment
}

// Allocate adds a payment.
func (a *Allocation) Allocate(system PaymentSystem, amount pricing.Money) error {
	for _, p := range a.payments {
		if p.System == system {
			return &DuplicateSystemError{System: system}
		}
	}
	if amount.IsNegative() {
		return common.NewValidationError("amount", "must not be negative")
	}
	a.payments = append(a.payments, Payment{System: system, Amount: amount})
	return nil
}

// Payments returns the allocated payments in insertion order.
func (a Allocation) Payments() []Payment {
	out := make([]Payment, len(a.payments))
	copy(out, a.payments)
	return out
}

// TotalAllocated sums every allocated amount.
func (a Allocation) TotalAllocated() pricing.Money {
	total := decimal.Zero
	for _, p := range a.payments {
		total = total.Add(p.Amount)
	}
	return total
}

// Result is the outcome of a due computation.
type Result struct {
	// Raw is grandTotal - alreadyPaid - allocated before rounding.
	Raw pricing.Money
	// Due is the outstanding amount. It is negative only for an overpayment
	// computed without trim.
	Due pricing.Money
	// Overpayment is set when the tender exceeds what was owed and trim was off.
	Overpayment bool
	// Overpaid is the size of the overpayment, zero otherwise.
	Overpaid pricing.Money
	// Trimmed is set when trim discarded an overpayment.
	Trimmed bool
}

// Clamped returns the due with negatives forced to zero, the legacy
// behaviour regardless of trim.
func (r Result) Clamped() pricing.Money { return pricing.MaxZero(r.Due) }

// ComputeDue reconciles a tender against a sale.
//
// With trim the due is max(0, round2(raw)) and any overpayment is dropped.
// Without trim the rounded raw due is returned as is, so a negative value is
// reported through Overpayment rather than hidden.
func ComputeDue(grandTotal, alreadyPaid pricing.Money, alloc Allocation, trim bool) Result {
	raw := grandTotal.Sub(alreadyPaid).Sub(alloc.TotalAllocated())
	rounded := pricing.Round2(raw)
	res := Result{Raw: raw, Due: rounded, Overpaid: decimal.Zero}
	if !rounded.IsNegative() {
		return res
	}
	if trim {
		res.Due = decimal.Zero
		res.Trimmed = true
		return res
	}
	res.Overpayment = true
	res.Overpaid = rounded.Neg()
	return res
}
