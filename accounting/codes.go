// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package accounting

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ItemTypeSale is appended to product subaccounts that carry sales.
const ItemTypeSale = "V"

// SubaccountPattern documents how mapped subaccount numbers are built.
const (
	ServicePattern = "{base}.{clinic}.{category}.{service}"
	ProductPattern = "{base}.{clinic}.{category}.{product}.{type}"
)

// SubaccountParts are the segments of a generated subaccount number.
// Empty segments are skipped.
type SubaccountParts struct {
	Base     string
	Clinic   string
	Category string
	Item     string
	ItemType string
}

// GenerateSubaccountCode joins the non-empty parts with dots, base first.
func GenerateSubaccountCode(p SubaccountParts) string {
	parts := []string{p.Base}
	for _, s := range []string{p.Clinic, p.Category, p.Item, p.ItemType} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

var foldAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold strips accents and keeps letters and digits only.
func fold(s string) string {
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		if unicode.IsSpace(r) {
			return ' '
		}
		return -1
	}, folded)
}

// ItemCode is the first three letters of a name, accent-folded and
// uppercased. "Depilación Láser" gives "DEP".
func ItemCode(name string) string {
	compact := strings.ReplaceAll(fold(name), " ", "")
	r := []rune(compact)
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r)
}

// ClinicCode prefers the clinic's prefix. Without one, a multi-word name
// yields its initials (up to three) and a single word its first three
// letters.
func ClinicCode(prefix, name string) string {
	if p := strings.TrimSpace(prefix); p != "" {
		return strings.ToUpper(p)
	}
	words := strings.Fields(fold(name))
	switch len(words) {
	case 0:
		return ""
	case 1:
		return ItemCode(words[0])
	}
	initials := make([]rune, 0, 3)
	for _, w := range words {
		if len(initials) == 3 {
			break
		}
		initials = append(initials, []rune(w)[0])
	}
	return string(initials)
}

// SubaccountName is "item - category - clinic", skipping empty parts.
func SubaccountName(item, category, clinic string) string {
	parts := []string{item}
	for _, s := range []string{category, clinic} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " - ")
}
