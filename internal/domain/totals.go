package domain

import (
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-fiscal-issuance/internal/common/errors"
)

var hundred = decimal.NewFromInt(100)

// LineItem is one billable line of a fiscal document.
type LineItem struct {
	ProductID       string          `json:"product_id"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
}

// Totals holds the aggregate monetary totals of a document, each rounded to
// 2 decimal places.
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// CalculateTotals computes document totals from line items.
//
// Per line: subtotal = qty × price, discount = subtotal × discount%/100,
// tax = (subtotal − discount) × tax%/100. Sums are accumulated at full
// precision and each aggregate total is rounded independently to 2 decimal
// places, half away from zero. Rounding is applied only at the aggregate
// level; the legally required presentation precision is 2 decimals.
//
// An empty item list yields all-zero totals.
func CalculateTotals(items []LineItem) (Totals, error) {
	subtotal := decimal.Zero
	discountTotal := decimal.Zero
	taxTotal := decimal.Zero

	for i, item := range items {
		if err := validateLineItem(i, item); err != nil {
			return Totals{}, err
		}

		lineSubtotal := item.Quantity.Mul(item.UnitPrice)
		lineDiscount := lineSubtotal.Mul(item.DiscountPercent).Div(hundred)
		lineTaxBase := lineSubtotal.Sub(lineDiscount)
		lineTax := lineTaxBase.Mul(item.TaxPercent).Div(hundred)

		subtotal = subtotal.Add(lineSubtotal)
		discountTotal = discountTotal.Add(lineDiscount)
		taxTotal = taxTotal.Add(lineTax)
	}

	grandTotal := subtotal.Sub(discountTotal).Add(taxTotal)

	return Totals{
		Subtotal:      subtotal.Round(2),
		DiscountTotal: discountTotal.Round(2),
		TaxTotal:      taxTotal.Round(2),
		GrandTotal:    grandTotal.Round(2),
	}, nil
}

// LineTotal returns the net amount of a single line (subtotal − discount +
// tax) rounded to 2 decimal places, for display and projection purposes.
func LineTotal(item LineItem) decimal.Decimal {
	lineSubtotal := item.Quantity.Mul(item.UnitPrice)
	lineDiscount := lineSubtotal.Mul(item.DiscountPercent).Div(hundred)
	lineTax := lineSubtotal.Sub(lineDiscount).Mul(item.TaxPercent).Div(hundred)
	return lineSubtotal.Sub(lineDiscount).Add(lineTax).Round(2)
}

func validateLineItem(idx int, item LineItem) error {
	if item.Quantity.Sign() <= 0 {
		return errors.Newf(errors.ErrCodeValidation, "line %d: quantity must be positive", idx+1)
	}
	if item.UnitPrice.Sign() < 0 {
		return errors.Newf(errors.ErrCodeValidation, "line %d: unit price cannot be negative", idx+1)
	}
	if item.DiscountPercent.Sign() < 0 || item.DiscountPercent.GreaterThan(hundred) {
		return errors.Newf(errors.ErrCodeValidation, "line %d: discount must be between 0 and 100", idx+1)
	}
	if item.TaxPercent.Sign() < 0 {
		return errors.Newf(errors.ErrCodeValidation, "line %d: tax rate cannot be negative", idx+1)
	}
	return nil
}
