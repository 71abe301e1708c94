package pricing

import "github.com/shopspring/decimal"

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	SubTotal       Money
	VatAmount      Money
	DiscountAmount Money
	GrandTotal     Money
}

// LineTotal returns round2(qty * unitPrice).
func LineTotal(qty int, unitPrice Money) Money {
	return Round2(decimal.NewFromInt(int64(qty)).Mul(unitPrice))
}

// Compute calculates sale totals for the provided items and percentage rates.
// VAT and discount are both taken on the subtotal, each rounded on its own, and
// the grand total is derived from the rounded components so that
// grand == sub + vat - discount holds exactly.
func Compute(items []Item, vatRate, discountRate Money) Summary {
	subTotal := decimal.Zero
	for _, it := range items {
		subTotal = subTotal.Add(LineTotal(it.Qty, it.UnitPrice))
	}
	vat := Round2(PercentOf(subTotal, vatRate))
	discount := Round2(PercentOf(subTotal, discountRate))
	return Summary{
		SubTotal:       subTotal,
		VatAmount:      vat,
		DiscountAmount: discount,
		GrandTotal:     subTotal.Add(vat).Sub(discount),
	}
}
