// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package accounting

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// DefaultCountry is used when a legal entity's country has no template.
const DefaultCountry = "ES"

type AccountType string

const (
	Asset     AccountType = "ASSET"
	Liability AccountType = "LIABILITY"
	Equity    AccountType = "EQUITY"
	Revenue   AccountType = "REVENUE"
	Expense   AccountType = "EXPENSE"
)

func (t AccountType) Valid() bool {
	switch t {
	case Asset, Liability, Equity, Revenue, Expense:
		return true
	}
	return false
}

// TemplateAccount is one account of a country chart.
type TemplateAccount struct {
	Number string      `yaml:"number"`
	Name   string      `yaml:"name"`
	Type   AccountType `yaml:"type"`
	Parent string      `yaml:"parent,omitempty"`
	// DirectEntry is nil when the template does not say, which means true.
	DirectEntry *bool `yaml:"direct_entry,omitempty"`
}

func (a TemplateAccount) AllowsDirectEntry() bool {
	return a.DirectEntry == nil || *a.DirectEntry
}

// Defaults names the account numbers used when nothing more specific is
// mapped.
type Defaults struct {
	Services  string `yaml:"services"`
	Products  string `yaml:"products"`
	Discounts string `yaml:"discounts"`
	VATOutput string `yaml:"vat_output"`
	Clients   string `yaml:"clients"`
	Cash      string `yaml:"cash"`
	Bank      string `yaml:"bank"`
	Cards     string `yaml:"cards"`
}

type Template struct {
	Country        string            `yaml:"country"`
	Name           string            `yaml:"name"`
	Accounts       []TemplateAccount `yaml:"accounts"`
	Defaults       Defaults          `yaml:"defaults"`
	PaymentMethods map[string]string `yaml:"payment_methods"`
}

// Ordered returns the accounts with every parent before its children.
func (t Template) Ordered() []TemplateAccount {
	out := make([]TemplateAccount, 0, len(t.Accounts))
	for _, a := range t.Accounts {
		if a.Parent == "" {
			out = append(out, a)
		}
	}
	for _, a := range t.Accounts {
		if a.Parent != "" {
			out = append(out, a)
		}
	}
	return out
}

// Account looks up an account by number.
func (t Template) Account(number string) (TemplateAccount, bool) {
	for _, a := range t.Accounts {
		if a.Number == number {
			return a, true
		}
	}
	return TemplateAccount{}, false
}

// LoadTemplate returns the chart for a country code, falling back to
// DefaultCountry for countries without one.
func LoadTemplate(country string) (Template, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	data, err := templateFS.ReadFile("templates/" + strings.ToLower(country) + ".yaml")
	if err != nil {
		if country == DefaultCountry {
			return Template{}, fmt.Errorf("default template missing: %w", err)
		}
		return LoadTemplate(DefaultCountry)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("failed to parse %s template: %w", country, err)
	}
	if err := t.validate(); err != nil {
		return Template{}, fmt.Errorf("template %s: %w", country, err)
	}
	return t, nil
}

// Countries lists the country codes with an embedded template.
func Countries() []string {
	entries, _ := templateFS.ReadDir("templates")
	var out []string
	for _, e := range entries {
		out = append(out, strings.ToUpper(strings.TrimSuffix(e.Name(), ".yaml")))
	}
	sort.Strings(out)
	return out
}

func (t Template) validate() error {
	seen := make(map[string]bool, len(t.Accounts))
	for _, a := range t.Accounts {
		if !a.Type.Valid() {
			return fmt.Errorf("account %s has unknown type %q", a.Number, a.Type)
		}
		if seen[a.Number] {
			return fmt.Errorf("duplicate account %s", a.Number)
		}
		seen[a.Number] = true
	}
	for _, a := range t.Accounts {
		if a.Parent != "" && !seen[a.Parent] {
			return fmt.Errorf("account %s references missing parent %s", a.Number, a.Parent)
		}
	}
	for code, number := range t.PaymentMethods {
		if !seen[number] {
			return fmt.Errorf("payment method %s maps to missing account %s", code, number)
		}
	}
	d := t.Defaults
	for _, number := range []string{d.Services, d.Products, d.Discounts, d.VATOutput, d.Clients, d.Cash, d.Bank, d.Cards} {
		if !seen[number] {
			return fmt.Errorf("default account %q missing", number)
		}
	}
	return nil
}
