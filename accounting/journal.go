// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package accounting

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUnbalanced     = errors.New("journal entry does not balance")
	ErrEmptyEntry     = errors.New("journal entry has no lines")
	ErrInvalidLine    = errors.New("journal line must carry either a debit or a credit")
	ErrMissingAccount = errors.New("journal line has no account")
)

// balanceTolerance absorbs rounding across lines.
var balanceTolerance = decimal.RequireFromString("0.01")

// Entry sources.
const (
	SourceManual      = "MANUAL"
	SourceTicket      = "TICKET"
	SourceDebtPayment = "DEBT_PAYMENT"
	SourceReversal    = "REVERSAL"
)

// Line is one debit or credit of a journal entry.
type Line struct {
	AccountID   string          `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

// Totals sums both sides.
func Totals(lines []Line) (debit, credit decimal.Decimal) {
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// ValidateLines checks every line and the balance of the whole entry.
func ValidateLines(lines []Line) error {
	if len(lines) == 0 {
		return ErrEmptyEntry
	}
	for i, l := range lines {
		if l.AccountID == "" {
			return fmt.Errorf("line %d: %w", i+1, ErrMissingAccount)
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("line %d: negative amount: %w", i+1, ErrInvalidLine)
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return fmt.Errorf("line %d: %w", i+1, ErrInvalidLine)
		}
	}
	return ValidateBalance(lines)
}

// ValidateBalance accepts a difference below one cent.
func ValidateBalance(lines []Line) error {
	debit, credit := Totals(lines)
	if debit.Sub(credit).Abs().GreaterThanOrEqual(balanceTolerance) {
		return fmt.Errorf("%w: debit %s, credit %s", ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}

// Reverse mirrors an entry by swapping debits and credits.
func Reverse(lines []Line, description string) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = Line{AccountID: l.AccountID, Debit: l.Credit, Credit: l.Debit, Description: description}
	}
	return out
}

// FormatEntryNumber renders the yearly counter as "2025/000042".
func FormatEntryNumber(year, n int) string {
	return fmt.Sprintf("%d/%06d", year, n)
}

// FormatInvoiceNumber renders "{prefix}{year}-{000042}".
func FormatInvoiceNumber(prefix string, year, n int) string {
	return fmt.Sprintf("%s%d-%06d", prefix, year, n)
}

type ReversalReason string

const (
	ReasonError        ReversalReason = "ERROR"
	ReasonDuplicate    ReversalReason = "DUPLICATE"
	ReasonCancellation ReversalReason = "CANCELLATION"
	ReasonAdjustment   ReversalReason = "ADJUSTMENT"
	ReasonOther        ReversalReason = "OTHER"
)

func (r ReversalReason) Valid() bool {
	switch r {
	case ReasonError, ReasonDuplicate, ReasonCancellation, ReasonAdjustment, ReasonOther:
		return true
	}
	return false
}

// Sale is the net revenue and VAT of one ticket item, already resolved
// to the revenue account it posts to.
type Sale struct {
	AccountID string
	Net       decimal.Decimal
	VAT       decimal.Decimal
}

// Collection is money received through one payment method account.
type Collection struct {
	AccountID string
	Amount    decimal.Decimal
}

// TicketPosting gathers the resolved accounts of a closed ticket.
type TicketPosting struct {
	Reference        string
	Sales            []Sale
	VATAccountID     string
	Collections      []Collection
	Pending          decimal.Decimal
	ClientsAccountID string
}

// TicketLines builds the entry for a closed ticket: revenue credits grouped
// by account in first-seen order, one VAT output credit, one debit per
// collection account and a clients debit for what is still owed.
func TicketLines(p TicketPosting) ([]Line, error) {
	var lines []Line

	revenue := map[string]int{}
	vat := decimal.Zero
	for _, s := range p.Sales {
		vat = vat.Add(s.VAT)
		if !s.Net.IsPositive() {
			continue
		}
		if i, ok := revenue[s.AccountID]; ok {
			lines[i].Credit = lines[i].Credit.Add(s.Net)
			continue
		}
		revenue[s.AccountID] = len(lines)
		lines = append(lines, Line{AccountID: s.AccountID, Credit: s.Net, Description: "Sales " + p.Reference})
	}

	if vat.IsPositive() {
		lines = append(lines, Line{AccountID: p.VATAccountID, Credit: vat, Description: "VAT output " + p.Reference})
	}

	collected := map[string]int{}
	for _, c := range p.Collections {
		if !c.Amount.IsPositive() {
			continue
		}
		if i, ok := collected[c.AccountID]; ok {
			lines[i].Debit = lines[i].Debit.Add(c.Amount)
			continue
		}
		collected[c.AccountID] = len(lines)
		lines = append(lines, Line{AccountID: c.AccountID, Debit: c.Amount, Description: "Collection " + p.Reference})
	}

	if p.Pending.IsPositive() {
		lines = append(lines, Line{AccountID: p.ClientsAccountID, Debit: p.Pending, Description: "Client debt " + p.Reference})
	}

	if err := ValidateLines(lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// DebtPaymentLines settles part of a client's debt.
func DebtPaymentLines(reference, collectionAccountID, clientsAccountID string, amount decimal.Decimal) ([]Line, error) {
	lines := []Line{
		{AccountID: collectionAccountID, Debit: amount, Description: "Debt payment " + reference},
		{AccountID: clientsAccountID, Credit: amount, Description: "Debt payment " + reference},
	}
	if err := ValidateLines(lines); err != nil {
		return nil, err
	}
	return lines, nil
}
