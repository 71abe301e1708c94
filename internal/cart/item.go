package cart

import (
	"fmt"
	"strings"

	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/pricing"
)

// Channel selects which price a sale charges.
type Channel string

const (
	// ChannelNormal charges the catalog sale price.
	ChannelNormal Channel = "normal"
	// ChannelShadow charges the shadow (override) price when the product has one.
	ChannelShadow Channel = "shadow"
)

// ParseChannel validates a channel tag. Empty input selects ChannelNormal.
func ParseChannel(value string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(value))) {
	case "", ChannelNormal:
		return ChannelNormal, nil
	case ChannelShadow:
		return ChannelShadow, nil
	default:
		return "", common.NewValidationError("channel", fmt.Sprintf("unknown sale channel %q", value))
	}
}

// Product is a stock entry as returned by the product-stock lookup.
type Product struct {
	ProductID       string         `json:"productId"`
	VariantID       string         `json:"variantId,omitempty"`
	Name            string         `json:"name"`
	Code            string         `json:"code,omitempty"`
	VariantLabel    string         `json:"variantLabel,omitempty"`
	BrandLabel      string         `json:"brandLabel,omitempty"`
	SalePrice       pricing.Money  `json:"salePrice"`
	ShadowSalePrice *pricing.Money `json:"shadowSalePrice,omitempty"`
	Stock           int            `json:"stock"`
}

// ItemKey identifies a row: one per product/variant pair.
type ItemKey struct {
	ProductID string
	VariantID string
}

// NormalizeVariantID maps the "default variant" spellings to the empty string.
func NormalizeVariantID(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "0" {
		return ""
	}
	return trimmed
}

// LineItem is one product/variant selection in a cart. Quantity and the
// effective price are only changed through the setters so the line total can
// never drift from its inputs.
type LineItem struct {
	ProductID      string
	VariantID      string
	DisplayName    string
	Code           string
	VariantLabel   string
	BrandLabel     string
	UnitPrice      pricing.Money
	AvailableStock int

	quantity           int
	effectiveUnitPrice pricing.Money
	lineTotal          pricing.Money
}

// NewLineItem creates a row with quantity 1 priced for the given channel.
func NewLineItem(p Product, channel Channel) (LineItem, error) {
	productID := strings.TrimSpace(p.ProductID)
	if productID == "" || productID == "0" {
		return LineItem{}, common.NewValidationError("productId", "product is required")
	}
	if p.SalePrice.IsNegative() {
		return LineItem{}, common.NewValidationError("salePrice", "must not be negative")
	}
	if p.ShadowSalePrice != nil && p.ShadowSalePrice.IsNegative() {
		return LineItem{}, common.NewValidationError("shadowSalePrice", "must not be negative")
	}
	if p.Stock < 0 {
		return LineItem{}, common.NewValidationError("stock", "must not be negative")
	}
	item := LineItem{
		ProductID:          productID,
		VariantID:          NormalizeVariantID(p.VariantID),
		DisplayName:        p.Name,
		Code:               p.Code,
		VariantLabel:       p.VariantLabel,
		BrandLabel:         p.BrandLabel,
		UnitPrice:          p.SalePrice,
		AvailableStock:     p.Stock,
		quantity:           1,
		effectiveUnitPrice: channelPrice(p, channel),
	}
	item.recompute()
	return item, nil
}

func channelPrice(p Product, channel Channel) pricing.Money {
	if channel == ChannelShadow && p.ShadowSalePrice != nil && p.ShadowSalePrice.IsPositive() {
		return *p.ShadowSalePrice
	}
	return p.SalePrice
}

// Key returns the row identity.
func (li LineItem) Key() ItemKey {
	return ItemKey{ProductID: li.ProductID, VariantID: NormalizeVariantID(li.VariantID)}
}

// Quantity returns the number of units.
func (li LineItem) Quantity() int { return li.quantity }

// EffectiveUnitPrice returns the price charged per unit.
func (li LineItem) EffectiveUnitPrice() pricing.Money { return li.effectiveUnitPrice }

// LineTotal returns round2(quantity * effective unit price).
func (li LineItem) LineTotal() pricing.Money { return li.lineTotal }

// StockWarning reports whether the quantity is above the stock snapshot. It is
// a warning only; submission validation turns it into an error.
func (li LineItem) StockWarning() bool { return li.quantity > li.AvailableStock }

// SetQuantity changes the number of units.
func (li *LineItem) SetQuantity(n int) error {
	if n < 1 {
		return common.NewValidationError("quantity", "must be a positive whole number")
	}
	li.quantity = n
	li.recompute()
	return nil
}

// SetEffectiveUnitPrice changes the price charged per unit.
func (li *LineItem) SetEffectiveUnitPrice(p pricing.Money) error {
	if p.IsNegative() {
		return common.NewValidationError("unitPrice", "must not be negative")
	}
	li.effectiveUnitPrice = p
	li.recompute()
	return nil
}

func (li *LineItem) recompute() {
	li.lineTotal = pricing.LineTotal(li.quantity, li.effectiveUnitPrice)
}
