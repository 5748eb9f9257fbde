// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package reader

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"cryptotax/internal/ledger"
)

// Extra columns of the 2022 export.
const (
	colOriginalAmount   = "original amount"
	colOriginalCurrency = "original currency"
	colSettledAmount    = "settled amount"
	colSettledCurrency  = "settled currency"
)

var requiredColumns2022 = []string{colType, colStarted, colDescription, colAmount, colFee, colCurrency, colOriginalAmount, colOriginalCurrency, colState}

const (
	exchangedTo   = "exchanged to "
	exchangedFrom = "exchanged from "
)

// leg2022 is a parsed 2022 row before its exchange partner is known. Amount
// on tx already includes the fee; raw and fee keep the two columns apart.
type leg2022 struct {
	tx      ledger.Transaction
	raw     decimal.Decimal
	fee     decimal.Decimal
	counter string
	paired  bool
}

// counterCurrency reads the other side of an exchange from its description:
// "Exchanged to EOS" or "Exchanged from DOGE DOGE Vault".
func counterCurrency(description string) string {
	description = strings.TrimSpace(description)
	d := strings.ToLower(description)
	for _, prefix := range []string{exchangedTo, exchangedFrom} {
		if strings.HasPrefix(d, prefix) {
			if f := strings.Fields(description[len(prefix):]); len(f) > 0 {
				return strings.ToUpper(f[0])
			}
		}
	}
	return ""
}

func isVault(description string) bool {
	return strings.Contains(strings.ToLower(description), "vault")
}

// parseRecord2022 maps one 2022 row. The export has no product column;
// exchanges into a vault say so in the description.
func parseRecord2022(record map[string]string) (leg2022, error) {
	var leg leg2022

	when := firstNonEmpty(record, colStarted, colCompleted)
	if when == "" {
		return leg, errors.New("no date")
	}
	t, err := parseTimeGuess(when)
	if err != nil {
		return leg, err
	}
	currency := strings.ToUpper(firstNonEmpty(record, colCurrency))
	if currency == "" {
		return leg, errors.New("no currency")
	}
	raw, err := parseDecimal(record[colAmount])
	if err != nil {
		return leg, errors.Wrap(err, colAmount)
	}
	fee, err := parseDecimal(record[colFee])
	if err != nil {
		return leg, errors.Wrap(err, colFee)
	}

	description := strings.TrimSpace(record[colDescription])
	account := ledger.Current
	if isVault(description) && !ledger.IsFiat(currency, "") {
		account = ledger.Savings
	}
	leg = leg2022{
		tx: ledger.Transaction{
			Kind:               ledger.ParseKind(record[colType]),
			Account:            account,
			Timestamp:          t,
			Description:        description,
			Currency:           currency,
			Amount:             raw.Add(fee),
			FiatAmount:         decimal.Zero,
			FiatAmountWithFees: decimal.Zero,
			Fee:                decimal.Zero,
			State:              firstNonEmpty(record, colState),
		},
		raw:     raw,
		fee:     fee,
		counter: counterCurrency(description),
	}

	if leg.tx.Kind == ledger.CardPayment {
		if err := priceCardPayment(&leg.tx, record); err != nil {
			return leg, err
		}
	}
	return leg, nil
}

// priceCardPayment takes the proceeds from the Original columns when they are
// fiat, else from the Settled ones. A payment with neither stays unpriced.
func priceCardPayment(tx *ledger.Transaction, record map[string]string) error {
	for _, c := range []struct{ amount, currency string }{
		{colOriginalAmount, colOriginalCurrency},
		{colSettledAmount, colSettledCurrency},
	} {
		cur := strings.ToUpper(strings.TrimSpace(record[c.currency]))
		if cur == "" || !ledger.IsFiat(cur, "") {
			continue
		}
		v, err := parseDecimal(record[c.amount])
		if err != nil {
			return errors.Wrap(err, c.amount)
		}
		tx.FiatAmount = v.Abs().Neg()
		tx.FiatAmountWithFees = v.Abs().Neg()
		tx.BaseCurrency = cur
		return nil
	}
	tx.Unpriced = true
	return nil
}

// selfPriced fills the fiat columns of a fiat leg from its own amount.
func selfPriced(leg *leg2022) {
	leg.tx.FiatAmount = leg.raw
	leg.tx.FiatAmountWithFees = leg.tx.Amount
	leg.tx.Fee = leg.fee.Abs()
	leg.tx.BaseCurrency = leg.tx.Currency
}

// parse2022 parses the rows and joins the two legs of every exchange. The
// fiat side prices the crypto side; a crypto to crypto exchange has no fiat
// value in this export and both its legs stay unpriced.
func (r *Reader) parse2022(rows []rawRow, source string) []ledger.Transaction {
	var legs []*leg2022
	for _, row := range rows {
		leg, err := parseRecord2022(row.rec)
		if err != nil {
			r.log.WithFields(logrus.Fields{"source": source, "line": row.line}).WithError(err).Warn("skipping row due to parse error")
			continue
		}
		leg.tx.Line = row.line
		legs = append(legs, &leg)
	}

	exchanges := lo.Filter(legs, func(l *leg2022, _ int) bool {
		return l.tx.Kind == ledger.Exchange && l.tx.Completed()
	})
	byTime := lo.GroupBy(exchanges, func(l *leg2022) int64 { return l.tx.Timestamp.UnixNano() })
	for _, out := range exchanges {
		if !out.tx.IsDisposal() || out.paired {
			continue
		}
		in, ok := lo.Find(byTime[out.tx.Timestamp.UnixNano()], func(l *leg2022) bool {
			return !l.paired && l.tx.IsAcquisition() && l.tx.Currency == out.counter &&
				(l.counter == "" || l.counter == out.tx.Currency)
		})
		if !ok {
			continue
		}
		out.paired, in.paired = true, true
		r.joinExchange(out, in, source)
	}

	for _, l := range exchanges {
		if l.paired {
			continue
		}
		if ledger.IsFiat(l.tx.Currency, "") {
			selfPriced(l)
			continue
		}
		l.tx.Unpriced = true
		r.log.WithFields(logrus.Fields{"source": source, "line": l.tx.Line, "currency": l.tx.Currency}).
			Warn("exchange leg without a counterpart; its fiat value is unknown")
	}

	return lo.Map(legs, func(l *leg2022, _ int) ledger.Transaction { return l.tx })
}

func (r *Reader) joinExchange(out, in *leg2022, source string) {
	if isVault(out.tx.Description) || isVault(in.tx.Description) {
		for _, l := range []*leg2022{out, in} {
			if !ledger.IsFiat(l.tx.Currency, "") {
				l.tx.Account = ledger.Savings
			}
		}
	}

	switch {
	case ledger.IsFiat(out.tx.Currency, ""):
		selfPriced(out)
		in.tx.FiatAmount = out.raw.Abs()
		in.tx.FiatAmountWithFees = out.tx.Amount.Abs()
		in.tx.Fee = out.fee.Abs()
		in.tx.BaseCurrency = out.tx.Currency
	case ledger.IsFiat(in.tx.Currency, ""):
		selfPriced(in)
		out.tx.FiatAmount = in.raw.Neg()
		out.tx.FiatAmountWithFees = in.tx.Amount.Neg()
		out.tx.Fee = in.fee.Abs()
		out.tx.BaseCurrency = in.tx.Currency
	default:
		out.tx.Unpriced, in.tx.Unpriced = true, true
		r.log.WithFields(logrus.Fields{
			"source": source,
			"line":   out.tx.Line,
			"from":   out.tx.Currency,
			"to":     in.tx.Currency,
		}).Warn("crypto to crypto exchange has no fiat value in this export; the sale is left unresolved")
	}
}
