package cart_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-kasir/internal/cart"
	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/pricing"
)

func money(s string) pricing.Money { return decimal.RequireFromString(s) }

func product(id, variant, price string, stock int) cart.Product {
	return cart.Product{ProductID: id, VariantID: variant, Name: "item " + id, SalePrice: money(price), Stock: stock}
}

func mustItem(t *testing.T, p cart.Product, ch cart.Channel) cart.LineItem {
	t.Helper()
	item, err := cart.NewLineItem(p, ch)
	require.NoError(t, err)
	return item
}

func TestTotalsExample(t *testing.T) {
	c := cart.New(cart.ChannelNormal, cart.PaidInFull)
	item := mustItem(t, product("1", "", "150.00", 10), cart.ChannelNormal)
	require.NoError(t, item.SetQuantity(2))
	c.AddOrUpdate(item)
	require.NoError(t, c.SetVatRate(money("5")))
	require.NoError(t, c.SetDiscountRate(money("10")))

	totals := c.ComputeTotals()
	require.True(t, totals.SubTotal.Equal(money("300.00")))
	require.True(t, totals.VatAmount.Equal(money("15.00")))
	require.True(t, totals.DiscountAmount.Equal(money("30.00")))
	require.True(t, totals.GrandTotal.Equal(money("285.00")))

	again := c.ComputeTotals()
	require.True(t, again.SubTotal.Equal(totals.SubTotal))
	require.True(t, again.VatAmount.Equal(totals.VatAmount))
	require.True(t, again.DiscountAmount.Equal(totals.DiscountAmount))
	require.True(t, again.GrandTotal.Equal(totals.GrandTotal))
	require.Equal(t, 1, c.Len())
}

func TestNewLineItemChannelPrice(t *testing.T) {
	shadow := money("90")
	p := product("7", "3", "100", 5)
	p.ShadowSalePrice = &shadow

	normal := mustItem(t, p, cart.ChannelNormal)
	require.Equal(t, 1, normal.Quantity())
	require.True(t, normal.EffectiveUnitPrice().Equal(money("100")))
	require.True(t, normal.LineTotal().Equal(money("100")))

	shadowed := mustItem(t, p, cart.ChannelShadow)
	require.True(t, shadowed.EffectiveUnitPrice().Equal(money("90")))
	require.True(t, shadowed.UnitPrice.Equal(money("100")))

	p.ShadowSalePrice = nil
	fallback := mustItem(t, p, cart.ChannelShadow)
	require.True(t, fallback.EffectiveUnitPrice().Equal(money("100")))
}

func TestNewLineItemValidation(t *testing.T) {
	_, err := cart.NewLineItem(cart.Product{SalePrice: money("1")}, cart.ChannelNormal)
	var vErr *common.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "productId", vErr.Field)

	_, err = cart.NewLineItem(product("1", "", "-1", 1), cart.ChannelNormal)
	require.ErrorAs(t, err, &vErr)
}

func TestLineItemSettersRecomputeTotal(t *testing.T) {
	item := mustItem(t, product("1", "", "0.335", 10), cart.ChannelNormal)
	require.NoError(t, item.SetQuantity(3))
	require.True(t, item.LineTotal().Equal(pricing.Round2(money("1.005"))))
	require.True(t, item.LineTotal().Equal(money("1.01")))

	require.NoError(t, item.SetEffectiveUnitPrice(money("2.5")))
	require.True(t, item.LineTotal().Equal(money("7.5")))

	var vErr *common.ValidationError
	require.ErrorAs(t, item.SetQuantity(0), &vErr)
	require.ErrorAs(t, item.SetQuantity(-4), &vErr)
	require.ErrorAs(t, item.SetEffectiveUnitPrice(money("-0.01")), &vErr)
	require.Equal(t, 3, item.Quantity())
	require.True(t, item.LineTotal().Equal(money("7.5")))

	require.NoError(t, item.SetQuantity(11))
	require.True(t, item.StockWarning())
}

func TestAddOrUpdateKeepsOneRowPerProductVariant(t *testing.T) {
	c := cart.New(cart.ChannelNormal, cart.PaidInFull)
	c.AddOrUpdate(mustItem(t, product("1", "", "10", 5), cart.ChannelNormal))
	c.AddOrUpdate(mustItem(t, product("2", "", "20", 5), cart.ChannelNormal))
	c.AddOrUpdate(mustItem(t, product("1", "9", "11", 5), cart.ChannelNormal))

	replacement := mustItem(t, product("1", "0", "10", 5), cart.ChannelNormal)
	require.NoError(t, replacement.SetQuantity(4))
	rows := c.AddOrUpdate(replacement)

	require.Len(t, rows, 3)
	require.Equal(t, "1", rows[0].ProductID)
	require.Equal(t, "", rows[0].VariantID)
	require.Equal(t, 4, rows[0].Quantity())
	require.Equal(t, "2", rows[1].ProductID)
	require.Equal(t, "9", rows[2].VariantID)

	seen := map[cart.ItemKey]bool{}
	for _, r := range c.Items() {
		require.False(t, seen[r.Key()], "duplicate key %+v", r.Key())
		seen[r.Key()] = true
	}
}

func TestRemoveAtShiftsAndPreservesOrder(t *testing.T) {
	c := cart.New(cart.ChannelNormal, cart.PaidInFull)
	for _, id := range []string{"a", "b", "c", "d"} {
		c.AddOrUpdate(mustItem(t, product(id, "", "1", 1), cart.ChannelNormal))
	}
	require.NoError(t, c.RemoveAt(1))
	ids := []string{}
	for _, it := range c.Items() {
		ids = append(ids, it.ProductID)
	}
	require.Equal(t, []string{"a", "c", "d"}, ids)

	var idxErr *cart.IndexError
	require.ErrorAs(t, c.RemoveAt(3), &idxErr)
	require.Equal(t, 3, idxErr.Len)
	require.ErrorAs(t, c.RemoveAt(-1), &idxErr)
	require.Equal(t, 3, c.Len())
}

func TestPositionalEdits(t *testing.T) {
	c := cart.New(cart.ChannelNormal, cart.PaidInFull)
	c.AddOrUpdate(mustItem(t, product("a", "", "12.50", 10), cart.ChannelNormal))
	require.NoError(t, c.SetQuantityAt(0, 4))
	require.NoError(t, c.SetUnitPriceAt(0, money("10")))
	item, err := c.At(0)
	require.NoError(t, err)
	require.True(t, item.LineTotal().Equal(money("40")))

	var idxErr *cart.IndexError
	require.ErrorAs(t, c.SetQuantityAt(2, 1), &idxErr)
	var vErr *common.ValidationError
	require.ErrorAs(t, c.SetQuantityAt(0, 0), &vErr)
}

func TestRatesRejectOutOfRange(t *testing.T) {
	c := cart.New(cart.ChannelNormal, cart.PaidInFull)
	require.NoError(t, c.SetVatRate(money("7.5")))

	var vErr *common.ValidationError
	require.ErrorAs(t, c.SetVatRate(money("100.01")), &vErr)
	require.Equal(t, "vat_rate", vErr.Field)
	require.ErrorAs(t, c.SetDiscountRate(money("-1")), &vErr)
	require.Equal(t, "discount_rate", vErr.Field)

	require.True(t, c.VatRate().Equal(money("7.5")))
	require.True(t, c.DiscountRate().IsZero())
	require.NoError(t, c.SetDiscountRate(money("100")))
}

func TestSettlePolicies(t *testing.T) {
	c := cart.New(cart.ChannelNormal, cart.PaidInFull)
	c.AddOrUpdate(mustItem(t, product("a", "", "500", 3), cart.ChannelNormal))

	full, err := c.Settle(nil)
	require.NoError(t, err)
	require.True(t, full.PaidAmount.Equal(money("500")))
	require.True(t, full.DueAmount.IsZero())

	partial := money("120.455")
	settled, err := c.Settle(&partial)
	require.NoError(t, err)
	require.True(t, settled.PaidAmount.Equal(money("120.46")))
	require.True(t, settled.DueAmount.Equal(money("379.54")))

	over := money("900")
	settled, err = c.Settle(&over)
	require.NoError(t, err)
	require.True(t, settled.DueAmount.IsZero())

	tendered := cart.Restore(cart.Snapshot{PaidPolicy: cart.PaidAsTendered, Items: c.Snapshot().Items})
	settled, err = tendered.Settle(nil)
	require.NoError(t, err)
	require.True(t, settled.PaidAmount.IsZero())
	require.True(t, settled.DueAmount.Equal(money("500")))

	negative := money("-1")
	_, err = c.Settle(&negative)
	var vErr *common.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestValidateForSubmission(t *testing.T) {
	empty := cart.New(cart.ChannelNormal, cart.PaidInFull)
	require.ErrorAs(t, empty.ValidateForSubmission(), &cart.EmptyCartError{})

	snap := cart.Snapshot{Items: []cart.ItemSnapshot{
		{ProductID: "ok", Quantity: 1, EffectiveUnitPrice: money("5"), AvailableStock: 5},
		{ProductID: "zero-qty", Quantity: 0, EffectiveUnitPrice: money("5"), AvailableStock: 5},
		{ProductID: "free", Quantity: 1, EffectiveUnitPrice: money("0"), AvailableStock: 5},
		{ProductID: "too-many", Quantity: 9, EffectiveUnitPrice: money("5"), AvailableStock: 2},
		{ProductID: "both", Quantity: 4, EffectiveUnitPrice: money("0"), AvailableStock: 1},
	}}
	err := cart.Restore(snap).ValidateForSubmission()
	require.Error(t, err)

	var invalid *cart.InvalidLineItemError
	require.True(t, errors.As(err, &invalid))
	invalidIDs := []string{}
	for _, it := range invalid.Items {
		invalidIDs = append(invalidIDs, it.ProductID)
	}
	require.Equal(t, []string{"zero-qty", "free", "both"}, invalidIDs)

	var exceeded *cart.StockExceededError
	require.True(t, errors.As(err, &exceeded))
	require.Len(t, exceeded.Items, 2)
	require.Equal(t, 3, exceeded.Items[0].Index)
	require.Equal(t, 4, exceeded.Items[1].Index)

	fields := common.FieldErrorsFrom(err)
	require.Contains(t, fields, "items")
	require.Contains(t, fields, "items.1")
	require.Contains(t, fields, "items.3")
	require.Len(t, fields["items.4"], 2)
}

func TestSnapshotRoundTripRecomputesTotals(t *testing.T) {
	c := cart.New(cart.ChannelShadow, cart.PaidAsTendered)
	item := mustItem(t, product("a", "2", "19.99", 10), cart.ChannelShadow)
	require.NoError(t, item.SetQuantity(3))
	c.AddOrUpdate(item)
	require.NoError(t, c.SetVatRate(money("5")))

	raw, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)
	var snap cart.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))

	restored := cart.Restore(snap)
	require.Equal(t, cart.ChannelShadow, restored.Channel())
	require.Equal(t, cart.PaidAsTendered, restored.PaidPolicy())
	got, err := restored.At(0)
	require.NoError(t, err)
	require.True(t, got.LineTotal().Equal(money("59.97")))
	require.True(t, restored.ComputeTotals().GrandTotal.Equal(c.ComputeTotals().GrandTotal))
}

func TestParseChannelAndPolicy(t *testing.T) {
	ch, err := cart.ParseChannel(" Shadow ")
	require.NoError(t, err)
	require.Equal(t, cart.ChannelShadow, ch)
	_, err = cart.ParseChannel("wholesale")
	require.Error(t, err)

	policy, err := cart.ParsePaidPolicy("")
	require.NoError(t, err)
	require.Equal(t, cart.PaidInFull, policy)
	_, err = cart.ParsePaidPolicy("later")
	require.Error(t, err)
}
