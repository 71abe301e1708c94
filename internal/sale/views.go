package sale

import (
	"time"

	"github.com/noah-isme/pos-kasir/internal/backend"
	"github.com/noah-isme/pos-kasir/internal/cart"
	"github.com/noah-isme/pos-kasir/internal/due"
	"github.com/noah-isme/pos-kasir/internal/locale"
	"github.com/noah-isme/pos-kasir/internal/pricing"
	"github.com/noah-isme/pos-kasir/internal/session"
)

// Amounts are sent as fixed two-decimal strings; display blocks hold the same
// values rendered for the negotiated locale.

type itemView struct {
	Index              int         `json:"index"`
	ProductID          string      `json:"productId"`
	VariantID          string      `json:"variantId,omitempty"`
	Name               string      `json:"name"`
	Code               string      `json:"code,omitempty"`
	VariantLabel       string      `json:"variantLabel,omitempty"`
	BrandLabel         string      `json:"brandLabel,omitempty"`
	Quantity           int         `json:"quantity"`
	UnitPrice          string      `json:"unitPrice"`
	EffectiveUnitPrice string      `json:"effectiveUnitPrice"`
	LineTotal          string      `json:"lineTotal"`
	AvailableStock     int         `json:"availableStock"`
	StockWarning       bool        `json:"stockWarning"`
	Display            itemDisplay `json:"display"`
}

type itemDisplay struct {
	Quantity           string `json:"quantity"`
	EffectiveUnitPrice string `json:"effectiveUnitPrice"`
	LineTotal          string `json:"lineTotal"`
	AvailableStock     string `json:"availableStock"`
}

type totalsView struct {
	SubTotal       string        `json:"subTotal"`
	VatAmount      string        `json:"vatAmount"`
	DiscountAmount string        `json:"discountAmount"`
	GrandTotal     string        `json:"grandTotal"`
	PaidAmount     string        `json:"paidAmount"`
	DueAmount      string        `json:"dueAmount"`
	Display        totalsDisplay `json:"display"`
}

type totalsDisplay struct {
	SubTotal       string `json:"subTotal"`
	VatAmount      string `json:"vatAmount"`
	DiscountAmount string `json:"discountAmount"`
	GrandTotal     string `json:"grandTotal"`
	PaidAmount     string `json:"paidAmount"`
	DueAmount      string `json:"dueAmount"`
}

type sessionView struct {
	ID           string     `json:"id"`
	Channel      string     `json:"channel"`
	PaidPolicy   string     `json:"paidPolicy"`
	VatRate      string     `json:"vatRate"`
	DiscountRate string     `json:"discountRate"`
	Items        []itemView `json:"items"`
	Totals       totalsView `json:"totals"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	Locale       string     `json:"locale"`
	UpdatedLocal string     `json:"updatedAtDisplay"`
}

func money(m pricing.Money) string { return pricing.Round2(m).StringFixed(2) }

func newSessionView(sess *session.Session, f locale.Formatter) sessionView {
	c := sess.Cart
	items := c.Items()
	views := make([]itemView, 0, len(items))
	for i, it := range items {
		views = append(views, itemView{
			Index:              i,
			ProductID:          it.ProductID,
			VariantID:          it.VariantID,
			Name:               it.DisplayName,
			Code:               it.Code,
			VariantLabel:       it.VariantLabel,
			BrandLabel:         it.BrandLabel,
			Quantity:           it.Quantity(),
			UnitPrice:          money(it.UnitPrice),
			EffectiveUnitPrice: money(it.EffectiveUnitPrice()),
			LineTotal:          money(it.LineTotal()),
			AvailableStock:     it.AvailableStock,
			StockWarning:       it.StockWarning(),
			Display: itemDisplay{
				Quantity:           f.FormatInt(it.Quantity()),
				EffectiveUnitPrice: f.FormatMoney(it.EffectiveUnitPrice()),
				LineTotal:          f.FormatMoney(it.LineTotal()),
				AvailableStock:     f.FormatInt(it.AvailableStock),
			},
		})
	}
	// Preview with the policy default; a tendered amount only exists at submit.
	st, _ := c.Settle(nil)
	return sessionView{
		ID:           sess.ID,
		Channel:      string(c.Channel()),
		PaidPolicy:   string(c.PaidPolicy()),
		VatRate:      money(c.VatRate()),
		DiscountRate: money(c.DiscountRate()),
		Items:        views,
		Totals:       newTotalsView(st, f),
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		Locale:       f.Tag.String(),
		UpdatedLocal: f.FormatDateTime(sess.UpdatedAt),
	}
}

func newTotalsView(st cart.Settlement, f locale.Formatter) totalsView {
	return totalsView{
		SubTotal:       money(st.SubTotal),
		VatAmount:      money(st.VatAmount),
		DiscountAmount: money(st.DiscountAmount),
		GrandTotal:     money(st.GrandTotal),
		PaidAmount:     money(st.PaidAmount),
		DueAmount:      money(st.DueAmount),
		Display: totalsDisplay{
			SubTotal:       f.FormatMoney(st.SubTotal),
			VatAmount:      f.FormatMoney(st.VatAmount),
			DiscountAmount: f.FormatMoney(st.DiscountAmount),
			GrandTotal:     f.FormatMoney(st.GrandTotal),
			PaidAmount:     f.FormatMoney(st.PaidAmount),
			DueAmount:      f.FormatMoney(st.DueAmount),
		},
	}
}

type stockView struct {
	ProductID       string  `json:"productId"`
	VariantID       string  `json:"variantId,omitempty"`
	Name            string  `json:"name"`
	Code            string  `json:"code,omitempty"`
	VariantLabel    string  `json:"variantLabel,omitempty"`
	BrandLabel      string  `json:"brandLabel,omitempty"`
	SalePrice       string  `json:"salePrice"`
	ShadowSalePrice *string `json:"shadowSalePrice,omitempty"`
	Stock           int     `json:"stock"`
	Display         struct {
		SalePrice string `json:"salePrice"`
		Stock     string `json:"stock"`
	} `json:"display"`
}

func newStockViews(entries []backend.StockEntry, f locale.Formatter) []stockView {
	out := make([]stockView, 0, len(entries))
	for _, e := range entries {
		p := e.CartProduct()
		v := stockView{
			ProductID:    p.ProductID,
			VariantID:    p.VariantID,
			Name:         p.Name,
			Code:         p.Code,
			VariantLabel: p.VariantLabel,
			BrandLabel:   p.BrandLabel,
			SalePrice:    money(p.SalePrice),
			Stock:        p.Stock,
		}
		if p.ShadowSalePrice != nil {
			shadow := money(*p.ShadowSalePrice)
			v.ShadowSalePrice = &shadow
		}
		v.Display.SalePrice = f.FormatMoney(p.SalePrice)
		v.Display.Stock = f.FormatInt(p.Stock)
		out = append(out, v)
	}
	return out
}

type receiptView struct {
	SaleID    string     `json:"saleId"`
	InvoiceNo string     `json:"invoiceNo,omitempty"`
	Date      string     `json:"date"`
	Totals    totalsView `json:"totals"`
	Display   struct {
		Date string `json:"date"`
	} `json:"display"`
}

func newReceiptView(r Receipt, f locale.Formatter) receiptView {
	v := receiptView{
		SaleID:    string(r.Sale.ID),
		InvoiceNo: r.Sale.InvoiceNo,
		Date:      r.Sale.Date,
		Totals:    newTotalsView(r.Settlement, f),
	}
	v.Display.Date = f.FormatDateString(r.Sale.Date)
	return v
}

type paymentView struct {
	SaleID      string `json:"saleId"`
	GrandTotal  string `json:"grandTotal"`
	PaidAmount  string `json:"paidAmount"`
	DueAmount   string `json:"dueAmount"`
	PaymentType string `json:"paymentType"`
	Display     struct {
		GrandTotal string `json:"grandTotal"`
		PaidAmount string `json:"paidAmount"`
		DueAmount  string `json:"dueAmount"`
	} `json:"display"`
}

func newPaymentView(saleID string, in PaymentInput, res PaymentResult, f locale.Formatter) paymentView {
	v := paymentView{
		SaleID:      saleID,
		GrandTotal:  money(in.GrandTotal),
		PaidAmount:  money(in.PaidAmount),
		DueAmount:   money(res.DueAmount),
		PaymentType: res.Sale.PaymentType,
	}
	if v.PaymentType == "" {
		v.PaymentType = in.PaymentType
	}
	v.Display.GrandTotal = f.FormatMoney(in.GrandTotal)
	v.Display.PaidAmount = f.FormatMoney(in.PaidAmount)
	v.Display.DueAmount = f.FormatMoney(res.DueAmount)
	return v
}

type tenderView struct {
	System string `json:"system"`
	Amount string `json:"amount"`
}

type dueView struct {
	SaleID      string       `json:"saleId"`
	Payments    []tenderView `json:"payments"`
	Tendered    string       `json:"tendered"`
	Due         string       `json:"due"`
	Overpayment bool         `json:"overpayment"`
	Overpaid    string       `json:"overpaid"`
	Trimmed     bool         `json:"trimmed"`
	Display     struct {
		Tendered string `json:"tendered"`
		Due      string `json:"due"`
		Overpaid string `json:"overpaid"`
	} `json:"display"`
}

func newDueView(saleID string, payments []due.Payment, res due.Result, f locale.Formatter) dueView {
	tendered := pricing.Zero()
	tenders := make([]tenderView, 0, len(payments))
	for _, p := range payments {
		tendered = tendered.Add(p.Amount)
		tenders = append(tenders, tenderView{System: string(p.System), Amount: money(p.Amount)})
	}
	v := dueView{
		SaleID:      saleID,
		Payments:    tenders,
		Tendered:    money(tendered),
		Due:         money(res.Due),
		Overpayment: res.Overpayment,
		Overpaid:    money(res.Overpaid),
		Trimmed:     res.Trimmed,
	}
	v.Display.Tendered = f.FormatMoney(tendered)
	v.Display.Due = f.FormatMoney(res.Due)
	v.Display.Overpaid = f.FormatMoney(res.Overpaid)
	return v
}
