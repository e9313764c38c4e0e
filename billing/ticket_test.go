// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPrice(t *testing.T) {
	tests := []struct {
		name    string
		item    Item
		base    string
		vat     string
		final   string
		wantErr error
	}{
		{"plain", Item{Quantity: 1, UnitPrice: d("100"), VATRate: d("21")}, "100", "21", "121", nil},
		{"quantity and discount", Item{Quantity: 3, UnitPrice: d("19.99"), Discount: d("5"), VATRate: d("21")}, "54.97", "11.54", "66.51", nil},
		{"zero vat", Item{Quantity: 2, UnitPrice: d("10"), VATRate: decimal.Zero}, "20", "0", "20", nil},
		{"rounds half up", Item{Quantity: 1, UnitPrice: d("0.05"), VATRate: d("10")}, "0.05", "0.01", "0.06", nil},
		{"zero quantity", Item{Quantity: 0, UnitPrice: d("1")}, "", "", "", ErrInvalidQuantity},
		{"negative price", Item{Quantity: 1, UnitPrice: d("-1")}, "", "", "", ErrNegativeAmount},
		{"discount too high", Item{Quantity: 1, UnitPrice: d("10"), Discount: d("11")}, "", "", "", ErrDiscountTooHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Price(tt.item)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, p.Base.Equal(d(tt.base)), "base %s", p.Base)
			assert.True(t, p.VAT.Equal(d(tt.vat)), "vat %s", p.VAT)
			assert.True(t, p.Final.Equal(d(tt.final)), "final %s", p.Final)
		})
	}
}

func TestSumAndPending(t *testing.T) {
	a, err := Price(Item{Quantity: 1, UnitPrice: d("100"), Discount: d("10"), VATRate: d("21")})
	require.NoError(t, err)
	b, err := Price(Item{Quantity: 2, UnitPrice: d("15"), VATRate: d("10")})
	require.NoError(t, err)

	tot := Sum([]Priced{a, b})
	assert.True(t, tot.Subtotal.Equal(d("130")), tot.Subtotal.String())
	assert.True(t, tot.Discount.Equal(d("10")))
	assert.True(t, tot.VAT.Equal(d("21.90")))
	assert.True(t, tot.Total.Equal(d("141.90")))

	assert.True(t, Pending(tot.Total, d("100")).Equal(d("41.90")))
	assert.True(t, Pending(tot.Total, d("200")).IsZero())
}

func TestCheckPayment(t *testing.T) {
	assert.NoError(t, CheckPayment(d("40"), d("100"), d("60")))
	assert.ErrorIs(t, CheckPayment(d("41"), d("100"), d("60")), ErrOverpayment)
	assert.ErrorIs(t, CheckPayment(decimal.Zero, d("100"), d("0")), ErrNegativeAmount)
}

func TestPercentDiscount(t *testing.T) {
	assert.True(t, PercentDiscount(2, d("49.95"), d("15")).Equal(d("14.99")))
}
