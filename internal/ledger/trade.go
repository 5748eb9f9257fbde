// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package ledger

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	Buy  = "BUY"
	Sell = "SELL"
)

// Trade is one exchange seen from its crypto leg: what moved and what it was
// swapped for. Both amounts are magnitudes.
type Trade struct {
	Timestamp       time.Time
	Kind            Kind
	Account         Account
	Direction       string
	Currency        string
	Amount          decimal.Decimal
	CounterCurrency string
	CounterAmount   decimal.Decimal
}

// Trades merges the legs of each exchange into one row per crypto leg. A
// priced leg is matched against its fiat value; an unpriced one against the
// crypto leg on the other side of the same exchange, when there is one.
func Trades(txs []Transaction, base string) []Trade {
	legs := lo.Filter(txs, func(t Transaction, _ int) bool {
		return (t.Kind == Exchange || t.Kind == CardPayment) && !t.Amount.IsZero() && !IsFiat(t.Currency, base)
	})
	byTime := lo.GroupBy(legs, func(t Transaction) int64 { return t.Timestamp.UnixNano() })

	return lo.Map(legs, func(t Transaction, _ int) Trade {
		tr := Trade{
			Timestamp:     t.Timestamp,
			Kind:          t.Kind,
			Account:       t.Account,
			Direction:     Buy,
			Currency:      t.Currency,
			Amount:        t.Amount.Abs(),
			CounterAmount: decimal.Zero,
		}
		if t.IsDisposal() {
			tr.Direction = Sell
		}
		if !t.Unpriced {
			tr.CounterCurrency = t.BaseCurrency
			tr.CounterAmount = t.FiatAmountWithFees.Abs()
			return tr
		}
		other, ok := lo.Find(byTime[t.Timestamp.UnixNano()], func(o Transaction) bool {
			return o.Kind == Exchange && !SameCurrency(o.Currency, t.Currency) &&
				o.Amount.IsPositive() != t.Amount.IsPositive()
		})
		if ok {
			tr.CounterCurrency = other.Currency
			tr.CounterAmount = other.Amount.Abs()
		}
		return tr
	})
}
