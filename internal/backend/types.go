package backend

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-kasir/internal/cart"
	"github.com/noah-isme/pos-kasir/internal/due"
	"github.com/noah-isme/pos-kasir/internal/pricing"
)

// ID is a backend identifier. The backend emits numeric ids, some proxies
// quote them; both decode to the same string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Amount is a money value sent with exactly two decimals.
type Amount decimal.Decimal

// AmountOf rounds m for the wire.
func AmountOf(m pricing.Money) Amount { return Amount(pricing.Round2(m)) }

// Money converts back to a pricing value.
func (a Amount) Money() pricing.Money { return decimal.Decimal(a) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).StringFixed(2)), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = Amount(decimal.Zero)
		return nil
	}
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*a = Amount(d)
	return nil
}

// StockEntry is one row of the product-stock lookup.
type StockEntry struct {
	ID              ID            `json:"id"`
	Quantity        int           `json:"quantity"`
	SalePrice       Amount        `json:"sale_price"`
	ShadowSalePrice *Amount       `json:"shadow_sale_price"`
	Product         StockProduct  `json:"product"`
	Variant         *StockVariant `json:"variant"`
}

// StockProduct is the product nested in a stock row.
type StockProduct struct {
	ID    ID          `json:"id"`
	Name  string      `json:"name"`
	Code  string      `json:"code"`
	Brand *StockBrand `json:"brand"`
}

// StockBrand is the optional brand of a product.
type StockBrand struct {
	Name string `json:"name"`
}

// StockVariant is the variant nested in a stock row, absent for the default
// variant.
type StockVariant struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// CartProduct maps the stock row onto the cart's product shape.
func (e StockEntry) CartProduct() cart.Product {
	p := cart.Product{
		ProductID: string(e.Product.ID),
		Name:      e.Product.Name,
		Code:      e.Product.Code,
		SalePrice: e.SalePrice.Money(),
		Stock:     e.Quantity,
	}
	if e.Product.Brand != nil {
		p.BrandLabel = e.Product.Brand.Name
	}
	if e.Variant != nil {
		p.VariantID = cart.NormalizeVariantID(string(e.Variant.ID))
		p.VariantLabel = e.Variant.Name
	}
	if e.ShadowSalePrice != nil {
		shadow := e.ShadowSalePrice.Money()
		p.ShadowSalePrice = &shadow
	}
	if p.Stock < 0 {
		p.Stock = 0
	}
	return p
}

// SaleItem is one line of a sale creation request.
type SaleItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice Amount `json:"unit_price"`
	LineTotal Amount `json:"line_total"`
}

// SaleRequest creates a sale. IdempotencyKey travels as a header.
type SaleRequest struct {
	CustomerID    string     `json:"customer_id,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	Date          string     `json:"date"`
	Note          string     `json:"note,omitempty"`
	Items         []SaleItem `json:"items"`
	VatRate       Amount     `json:"vat"`
	DiscountRate  Amount     `json:"discount"`
	SubTotal      Amount     `json:"sub_total"`
	GrandTotal    Amount     `json:"grand_total"`
	PaidAmount    Amount     `json:"paid_amount"`
	DueAmount     Amount     `json:"due_amount"`
	Channel       string     `json:"sale_type"`

	IdempotencyKey string `json:"-"`
}

// Sale is the backend's view of a created or updated sale.
type Sale struct {
	ID          ID     `json:"id"`
	InvoiceNo   string `json:"invoice_no"`
	Date        string `json:"date"`
	GrandTotal  Amount `json:"grand_total"`
	PaidAmount  Amount `json:"paid_amount"`
	DueAmount   Amount `json:"due_amount"`
	PaymentType string `json:"payment_type,omitempty"`
}

// PaymentUpdate reconciles the payment of an existing sale.
type PaymentUpdate struct {
	GrandTotal  Amount `json:"grand_total"`
	PaidAmount  Amount `json:"paid_amount"`
	DueAmount   Amount `json:"due_amount"`
	PaymentType string `json:"payment_type"`
}

// DuePayment is one tendered amount in a due collection.
type DuePayment struct {
	System due.PaymentSystem `json:"payment_system"`
	Amount Amount            `json:"amount"`
}

// DueCollection settles part or all of a sale's outstanding due.
type DueCollection struct {
	SaleID    string       `json:"sale_id"`
	DueAmount Amount       `json:"due"`
	Payments  []DuePayment `json:"payments"`
	Trim      bool         `json:"trim"`
}

// DuePaymentsFrom converts an allocation for the wire.
func DuePaymentsFrom(alloc due.Allocation) []DuePayment {
	payments := alloc.Payments()
	out := make([]DuePayment, 0, len(payments))
	for _, p := range payments {
		out = append(out, DuePayment{System: p.System, Amount: AmountOf(p.Amount)})
	}
	return out
}
