// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

// Package report renders a gains report as semicolon separated text or PDF.
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"cryptotax/internal/costbasis"
	"cryptotax/internal/gains"
	"cryptotax/internal/ledger"
)

const (
	DateLayout    = "2006-01-02 15:04:05"
	rowDigits     = 4
	summaryDigits = 2
)

var (
	detailHeader  = []string{"Date", "Currency", "Amount", "Income", "Cost", "Net Income"}
	summaryHeader = []string{"Currency", "Count", "Amount", "Income", "Cost", "Net Income", "Unresolved"}
	ledgerHeader  = []string{"Date", "Type", "Product", "Currency", "Amount", "Fiat Amount", "Fiat Amount (inc. fees)", "Fee", "Base Currency", "Description"}
	tradeHeader   = []string{"Date", "Type", "Direction", "Product", "Currency", "Amount", "Exchanged Currency", "Exchanged Amount"}
)

func newWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	return cw
}

func flush(cw *csv.Writer) error {
	cw.Flush()
	return errors.Wrap(cw.Error(), "write report")
}

// CostString renders a disposal's cost: a signed fixed-point figure when the
// basis is all fiat, otherwise the fiat part followed by the pending parts.
func CostString(d costbasis.Disposal, digits int32) string {
	fiat := d.FiatCost().StringFixed(digits)
	pending := d.Cost.Pending()
	if len(pending) == 0 {
		return fiat
	}
	parts := []string{fiat}
	for _, c := range pending {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ", ")
}

// NetIncomeString is blank when the net income is undefined.
func NetIncomeString(d costbasis.Disposal, digits int32) string {
	net, ok := d.NetIncome()
	if !ok {
		return ""
	}
	return net.StringFixed(digits)
}

// WriteDetail writes one row per disposal.
func WriteDetail(w io.Writer, rows []costbasis.Disposal) error {
	cw := newWriter(w)
	if err := cw.Write(detailHeader); err != nil {
		return errors.Wrap(err, "write report")
	}
	for _, d := range rows {
		rec := []string{
			d.Timestamp.Format(DateLayout),
			d.Currency,
			d.Amount.StringFixed(rowDigits),
			d.Income.StringFixed(rowDigits),
			CostString(d, rowDigits),
			NetIncomeString(d, rowDigits),
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "write report")
		}
	}
	return flush(cw)
}

// WriteSummary writes one row per currency.
func WriteSummary(w io.Writer, summaries []gains.Summary) error {
	cw := newWriter(w)
	if err := cw.Write(summaryHeader); err != nil {
		return errors.Wrap(err, "write report")
	}
	for _, s := range summaries {
		rec := []string{
			s.Currency,
			strconv.Itoa(s.Count),
			s.Amount.StringFixed(summaryDigits),
			s.Income.StringFixed(summaryDigits),
			s.Cost.StringFixed(summaryDigits),
			s.NetIncome.StringFixed(summaryDigits),
			strconv.Itoa(s.Unresolved),
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "write report")
		}
	}
	return flush(cw)
}

// WriteLedger writes normalized transactions back out, one per row.
func WriteLedger(w io.Writer, txs []ledger.Transaction) error {
	cw := newWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return errors.Wrap(err, "write ledger")
	}
	str := func(d decimal.Decimal) string { return d.String() }
	for _, tx := range txs {
		rec := []string{
			tx.Timestamp.Format(DateLayout),
			tx.Kind.String(),
			tx.Account.String(),
			tx.Currency,
			str(tx.Amount),
			str(tx.FiatAmount),
			str(tx.FiatAmountWithFees),
			str(tx.Fee),
			tx.BaseCurrency,
			tx.Description,
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "write ledger")
		}
	}
	return flush(cw)
}

// WriteTrades writes one merged row per exchange leg. The exchanged side is
// blank when the export does not say what the leg was swapped for.
func WriteTrades(w io.Writer, trades []ledger.Trade) error {
	cw := newWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return errors.Wrap(err, "write trades")
	}
	for _, t := range trades {
		counter := ""
		if t.CounterCurrency != "" {
			counter = t.CounterAmount.String()
		}
		rec := []string{
			t.Timestamp.Format(DateLayout),
			t.Kind.String(),
			t.Direction,
			t.Account.String(),
			t.Currency,
			t.Amount.String(),
			t.CounterCurrency,
			counter,
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "write trades")
		}
	}
	return flush(cw)
}
