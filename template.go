// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/casblasvic/weekly-calendar-sub018/accounting"
)

func newTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts-template <country>",
		Short: "Print the embedded chart of accounts for a country",
		Long: `Print the chart of accounts quick setup installs for a country.
Countries without a template fall back to ` + accounting.DefaultCountry + `.

Available: ` + strings.Join(accounting.Countries(), ", "),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := accounting.LoadTemplate(args[0])
			if err != nil {
				return err
			}
			return printTemplate(cmd.OutOrStdout(), t)
		},
	}
}

func printTemplate(out io.Writer, t accounting.Template) error {
	fmt.Fprintf(out, "%s (%s)\n\n", t.Name, t.Country)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tNAME\tTYPE\tPARENT")
	perType := map[accounting.AccountType]int64{}
	for _, a := range t.Ordered() {
		name := a.Name
		if !a.AllowsDirectEntry() {
			name += " (summary)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Number, name, a.Type, a.Parent)
		perType[a.Type]++
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	types := make([]string, 0, len(perType))
	for typ, n := range perType {
		types = append(types, fmt.Sprintf("%s %s", humanize.Comma(n), strings.ToLower(string(typ))))
	}
	sort.Strings(types)
	fmt.Fprintf(out, "\n%s accounts: %s\n", humanize.Comma(int64(len(t.Accounts))), strings.Join(types, ", "))

	d := t.Defaults
	fmt.Fprintf(out, "defaults: services %s, products %s, vat %s, clients %s, cash %s, bank %s, cards %s\n",
		d.Services, d.Products, d.VATOutput, d.Clients, d.Cash, d.Bank, d.Cards)

	methods := make([]string, 0, len(t.PaymentMethods))
	for code, acct := range t.PaymentMethods {
		methods = append(methods, code+"="+acct)
	}
	sort.Strings(methods)
	if len(methods) > 0 {
		fmt.Fprintf(out, "payment methods: %s\n", strings.Join(methods, ", "))
	}
	return nil
}
