// Package pricing computes line and document totals for quotations.
// All functions are pure: identical inputs yield identical outputs.
// Intermediate amounts are kept at full decimal precision; rounding to
// currency precision happens exactly once, on the document totals.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quotient-erp/quotient/internal/shared"
)

// ErrDiscountExceedsSubtotal is returned when a discount is larger than the
// amount it applies to.
var ErrDiscountExceedsSubtotal = errors.New("discount exceeds subtotal")

// DiscountKind distinguishes percentage from fixed-amount discounts.
type DiscountKind string

const (
	DiscountPercent DiscountKind = "PERCENT"
	DiscountFixed   DiscountKind = "FIXED"
)

// Discount describes a discount rule applied at line or document scope.
type Discount struct {
	Kind  DiscountKind    `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// LineItem is the priced content of a single quotation line.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Discount    *Discount       `json:"discount,omitempty"`
}

// LineBreakdown is the computed result for one line.
type LineBreakdown struct {
	Net   decimal.Decimal // discounted subtotal, excluding tax
	Tax   decimal.Decimal
	Total decimal.Decimal // Net + Tax
}

// Totals aggregates a document's computed amounts, rounded to currency
// precision.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
}

var oneHundred = decimal.NewFromInt(100)

// LineTotal validates the item and computes its breakdown: the line discount
// applies to quantity*unitPrice, then the line tax rate applies to the
// discounted amount. No rounding is performed here.
func LineTotal(item LineItem) (LineBreakdown, error) {
	if !item.Quantity.IsPositive() {
		return LineBreakdown{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if item.UnitPrice.IsNegative() {
		return LineBreakdown{}, fmt.Errorf("%w: unit price must not be negative", shared.ErrValidation)
	}
	if item.TaxRate.IsNegative() || item.TaxRate.GreaterThan(oneHundred) {
		return LineBreakdown{}, fmt.Errorf("%w: tax rate must be between 0 and 100", shared.ErrValidation)
	}

	gross := item.Quantity.Mul(item.UnitPrice)
	discount, err := discountAmount(item.Discount, gross)
	if err != nil {
		return LineBreakdown{}, err
	}

	net := gross.Sub(discount)
	tax := net.Mul(item.TaxRate).Div(oneHundred)
	return LineBreakdown{Net: net, Tax: tax, Total: net.Add(tax)}, nil
}

// DocumentTotals sums the line breakdowns into a subtotal, applies the
// document-level discount to the subtotal and the document-level tax rate to
// the discounted amount, then rounds every figure to two decimal places.
// docTax may be nil for no document tax.
func DocumentTotals(items []LineItem, docDiscount *Discount, docTax *decimal.Decimal) (Totals, error) {
	var subtotal, lineTax decimal.Decimal
	for i, item := range items {
		line, err := LineTotal(item)
		if err != nil {
			return Totals{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		subtotal = subtotal.Add(line.Net)
		lineTax = lineTax.Add(line.Tax)
	}

	discount, err := discountAmount(docDiscount, subtotal)
	if err != nil {
		return Totals{}, err
	}

	taxable := subtotal.Sub(discount)
	tax := lineTax
	if docTax != nil {
		if docTax.IsNegative() || docTax.GreaterThan(oneHundred) {
			return Totals{}, fmt.Errorf("%w: document tax rate must be between 0 and 100", shared.ErrValidation)
		}
		tax = tax.Add(taxable.Mul(*docTax).Div(oneHundred))
	}

	return Totals{
		Subtotal:       subtotal.Round(2),
		DiscountAmount: discount.Round(2),
		TaxAmount:      tax.Round(2),
		GrandTotal:     taxable.Add(tax).Round(2),
	}, nil
}

func discountAmount(d *Discount, base decimal.Decimal) (decimal.Decimal, error) {
	if d == nil {
		return decimal.Zero, nil
	}
	if d.Value.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: discount value must not be negative", shared.ErrValidation)
	}
	var amount decimal.Decimal
	switch d.Kind {
	case DiscountPercent:
		if d.Value.GreaterThan(oneHundred) {
			return decimal.Decimal{}, fmt.Errorf("%w: percentage discount above 100", ErrDiscountExceedsSubtotal)
		}
		amount = base.Mul(d.Value).Div(oneHundred)
	case DiscountFixed:
		amount = d.Value
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: unknown discount kind %q", shared.ErrValidation, d.Kind)
	}
	if amount.GreaterThan(base) {
		return decimal.Decimal{}, fmt.Errorf("%w: discount %s on subtotal %s", ErrDiscountExceedsSubtotal, amount, base)
	}
	return amount, nil
}
