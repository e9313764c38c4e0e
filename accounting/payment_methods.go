// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package accounting

// PaymentMethod is a system-wide payment method created by quick setup.
type PaymentMethod struct {
	Code   string
	Name   string
	Active bool
}

// DefaultPaymentMethods are created for every system on quick setup.
var DefaultPaymentMethods = []PaymentMethod{
	{Code: "CASH", Name: "Cash", Active: true},
	{Code: "CARD", Name: "Card", Active: true},
	{Code: "BANK_TRANSFER", Name: "Bank transfer", Active: true},
	{Code: "ONLINE_GATEWAY", Name: "Online gateway"},
	{Code: "CHECK", Name: "Check"},
	{Code: "INTERNAL_CREDIT", Name: "Internal credit", Active: true},
	{Code: "DEFERRED_PAYMENT", Name: "Deferred payment", Active: true},
	{Code: "OTHER", Name: "Other"},
}

// PaymentAccount returns the account number a payment method posts to,
// falling back to the cash default.
func (t Template) PaymentAccount(code string) string {
	if n, ok := t.PaymentMethods[code]; ok {
		return n
	}
	return t.Defaults.Cash
}
