package cart

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noah-isme/pos-kasir/internal/common"
	"github.com/noah-isme/pos-kasir/internal/pricing"
)

// ItemIssue describes one offending row reported by submission validation.
type ItemIssue struct {
	Index          int           `json:"index"`
	ProductID      string        `json:"productId"`
	VariantID      string        `json:"variantId,omitempty"`
	Name           string        `json:"name"`
	Quantity       int           `json:"quantity"`
	UnitPrice      pricing.Money `json:"unitPrice"`
	AvailableStock int           `json:"availableStock"`
	Reason         string        `json:"reason"`
}

func issueFields(items []ItemIssue) common.FieldErrors {
	out := common.FieldErrors{}
	for _, it := range items {
		out.Add("items", fmt.Sprintf("%s: %s", it.label(), it.Reason))
		out.Add("items."+strconv.Itoa(it.Index), it.Reason)
	}
	return out
}

func (it ItemIssue) label() string {
	if strings.TrimSpace(it.Name) != "" {
		return it.Name
	}
	return it.ProductID
}

// EmptyCartError is returned when a cart without items is submitted.
type EmptyCartError struct{}

func (EmptyCartError) Error() string { return "cart: no items to submit" }

// FieldErrors implements common.FieldReporter.
func (EmptyCartError) FieldErrors() common.FieldErrors {
	return common.FieldErrors{"items": {"add at least one product"}}
}

// InvalidLineItemError lists rows whose quantity or price cannot be sold.
type InvalidLineItemError struct {
	Items []ItemIssue
}

func (e *InvalidLineItemError) Error() string {
	return fmt.Sprintf("cart: %d invalid line item(s)", len(e.Items))
}

// FieldErrors implements common.FieldReporter.
func (e *InvalidLineItemError) FieldErrors() common.FieldErrors { return issueFields(e.Items) }

// StockExceededError lists rows asking for more than the stock snapshot.
type StockExceededError struct {
	Items []ItemIssue
}

func (e *StockExceededError) Error() string {
	return fmt.Sprintf("cart: %d line item(s) exceed available stock", len(e.Items))
}

// FieldErrors implements common.FieldReporter.
func (e *StockExceededError) FieldErrors() common.FieldErrors { return issueFields(e.Items) }

// IndexError is returned for positional operations outside the cart bounds.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("cart: index %d out of range [0,%d)", e.Index, e.Len)
}

// FieldErrors implements common.FieldReporter.
func (e *IndexError) FieldErrors() common.FieldErrors {
	return common.FieldErrors{"index": {e.Error()}}
}
