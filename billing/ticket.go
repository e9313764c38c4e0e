// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrDiscountTooHigh = errors.New("discount exceeds line amount")
	ErrOverpayment     = errors.New("payment exceeds pending amount")
)

var hundred = decimal.NewFromInt(100)

// Item is a priced ticket line before taxes.
type Item struct {
	Quantity  int64
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	VATRate   decimal.Decimal
}

// Priced is an item with its base, VAT and final amounts.
type Priced struct {
	Item
	Base  decimal.Decimal
	VAT   decimal.Decimal
	Final decimal.Decimal
}

// Price computes base = qty*price - discount and VAT on the base,
// rounded to cents.
func Price(it Item) (Priced, error) {
	if it.Quantity <= 0 {
		return Priced{}, ErrInvalidQuantity
	}
	if it.UnitPrice.IsNegative() || it.Discount.IsNegative() || it.VATRate.IsNegative() {
		return Priced{}, ErrNegativeAmount
	}
	gross := it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity))
	if it.Discount.GreaterThan(gross) {
		return Priced{}, fmt.Errorf("%w: %s > %s", ErrDiscountTooHigh, it.Discount.StringFixed(2), gross.StringFixed(2))
	}
	base := gross.Sub(it.Discount).Round(2)
	vat := base.Mul(it.VATRate).Div(hundred).Round(2)
	return Priced{Item: it, Base: base, VAT: vat, Final: base.Add(vat)}, nil
}

// PercentDiscount returns percent of qty*price, rounded to cents.
func PercentDiscount(qty int64, unitPrice, percent decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(qty)).Mul(percent).Div(hundred).Round(2)
}

// Totals are the header amounts of a ticket.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	VAT      decimal.Decimal
	Total    decimal.Decimal
}

// Sum adds up priced items. Subtotal is before discounts.
func Sum(items []Priced) Totals {
	var t Totals
	for _, it := range items {
		t.Subtotal = t.Subtotal.Add(it.Base.Add(it.Discount))
		t.Discount = t.Discount.Add(it.Discount)
		t.VAT = t.VAT.Add(it.VAT)
		t.Total = t.Total.Add(it.Final)
	}
	return t
}

// Pending is what the client still owes, never negative.
func Pending(total, paid decimal.Decimal) decimal.Decimal {
	p := total.Sub(paid)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// CheckPayment rejects non-positive amounts and payments above what is owed.
func CheckPayment(amount, total, paid decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount.StringFixed(2))
	}
	if amount.GreaterThan(Pending(total, paid)) {
		return ErrOverpayment
	}
	return nil
}
