// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

// Package gains filters resolved disposals and sums them per currency.
package gains

import (
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"cryptotax/internal/costbasis"
	"cryptotax/internal/ledger"
)

// AllCurrencies disables the currency filter.
const AllCurrencies = "ALL"

// Filter selects the disposals that make it into the output. The zero value
// selects everything.
type Filter struct {
	Year     int
	Currency string
}

func (f Filter) Match(d costbasis.Disposal) bool {
	if f.Year != 0 && d.Timestamp.Year() != f.Year {
		return false
	}
	c := strings.TrimSpace(f.Currency)
	if c == "" || strings.EqualFold(c, AllCurrencies) {
		return true
	}
	return ledger.SameCurrency(c, d.Currency)
}

// Summary is the per-currency aggregate of a filtered report.
type Summary struct {
	Currency string
	Count    int
	// Amount is the disposed quantity, negative like the detail rows.
	Amount decimal.Decimal
	Income decimal.Decimal
	// Cost sums the fiat-resolved part of each row's basis, non-positive.
	Cost decimal.Decimal
	// NetIncome sums the rows whose net income is defined.
	NetIncome  decimal.Decimal
	Unresolved int
}

// Resolved reports whether every row behind the summary has a net income.
func (s Summary) Resolved() bool {
	return s.Unresolved == 0
}

// Report is the aggregator output: detail rows in chronological order and one
// summary per currency, ordered by ticker.
type Report struct {
	Filter    Filter
	Rows      []costbasis.Disposal
	Summaries []Summary
}

// Aggregate applies f to disposals and builds the summaries. Disposals are
// expected in processing order; ties keep that order.
func Aggregate(disposals []costbasis.Disposal, f Filter) Report {
	rows := lo.Filter(disposals, func(d costbasis.Disposal, _ int) bool { return f.Match(d) })
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	byCurrency := lo.GroupBy(rows, func(d costbasis.Disposal) string { return strings.ToUpper(d.Currency) })
	currencies := lo.Keys(byCurrency)
	sort.Strings(currencies)

	summaries := lo.Map(currencies, func(cur string, _ int) Summary {
		return summarize(cur, byCurrency[cur])
	})
	return Report{Filter: f, Rows: rows, Summaries: summaries}
}

func summarize(currency string, rows []costbasis.Disposal) Summary {
	s := Summary{
		Currency:  currency,
		Count:     len(rows),
		Amount:    decimal.Zero,
		Income:    decimal.Zero,
		Cost:      decimal.Zero,
		NetIncome: decimal.Zero,
	}
	for _, d := range rows {
		s.Amount = s.Amount.Add(d.Amount)
		s.Income = s.Income.Add(d.Income)
		s.Cost = s.Cost.Add(d.FiatCost())
		if net, ok := d.NetIncome(); ok {
			s.NetIncome = s.NetIncome.Add(net)
		} else {
			s.Unresolved++
		}
	}
	return s
}

// Unresolved counts the rows of r without a net income.
func (r Report) Unresolved() int {
	return lo.SumBy(r.Summaries, func(s Summary) int { return s.Unresolved })
}
