package cart

import "github.com/noah-isme/pos-kasir/internal/pricing"

// Snapshot is the serialisable form of a cart.
type Snapshot struct {
	Channel      Channel        `json:"channel"`
	PaidPolicy   PaidPolicy     `json:"paidPolicy"`
	VatRate      pricing.Money  `json:"vatRate"`
	DiscountRate pricing.Money  `json:"discountRate"`
	Items        []ItemSnapshot `json:"items"`
}

// ItemSnapshot is the serialisable form of a line item. Line totals are not
// stored; they are recomputed on restore.
type ItemSnapshot struct {
	ProductID          string        `json:"productId"`
	VariantID          string        `json:"variantId,omitempty"`
	DisplayName        string        `json:"displayName"`
	Code               string        `json:"code,omitempty"`
	VariantLabel       string        `json:"variantLabel,omitempty"`
	BrandLabel         string        `json:"brandLabel,omitempty"`
	Quantity           int           `json:"quantity"`
	UnitPrice          pricing.Money `json:"unitPrice"`
	EffectiveUnitPrice pricing.Money `json:"effectiveUnitPrice"`
	AvailableStock     int           `json:"availableStock"`
}

// Snapshot captures the cart state.
func (c *Cart) Snapshot() Snapshot {
	items := make([]ItemSnapshot, 0, len(c.items))
	for _, it := range c.items {
		items = append(items, ItemSnapshot{
			ProductID:          it.ProductID,
			VariantID:          it.VariantID,
			DisplayName:        it.DisplayName,
			Code:               it.Code,
			VariantLabel:       it.VariantLabel,
			BrandLabel:         it.BrandLabel,
			Quantity:           it.quantity,
			UnitPrice:          it.UnitPrice,
			EffectiveUnitPrice: it.effectiveUnitPrice,
			AvailableStock:     it.AvailableStock,
		})
	}
	return Snapshot{
		Channel:      c.channel,
		PaidPolicy:   c.paidPolicy,
		VatRate:      c.vatRate,
		DiscountRate: c.discountRate,
		Items:        items,
	}
}

// Restore rebuilds a cart from a snapshot. Rows sharing a product/variant are
// collapsed onto the first position, the later row winning.
func Restore(s Snapshot) *Cart {
	c := New(s.Channel, s.PaidPolicy)
	c.vatRate = s.VatRate
	c.discountRate = s.DiscountRate
	for _, snap := range s.Items {
		item := LineItem{
			ProductID:          snap.ProductID,
			VariantID:          NormalizeVariantID(snap.VariantID),
			DisplayName:        snap.DisplayName,
			Code:               snap.Code,
			VariantLabel:       snap.VariantLabel,
			BrandLabel:         snap.BrandLabel,
			UnitPrice:          snap.UnitPrice,
			AvailableStock:     snap.AvailableStock,
			quantity:           snap.Quantity,
			effectiveUnitPrice: snap.EffectiveUnitPrice,
		}
		item.recompute()
		c.AddOrUpdate(item)
	}
	return c
}
