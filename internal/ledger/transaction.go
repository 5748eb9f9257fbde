// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

// Package ledger holds the normalized transaction records handed from the
// CSV reader to the cost basis engine.
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the transaction type as reported by the exchange.
type Kind int

const (
	Other Kind = iota
	Exchange
	CardPayment
	Transfer
)

func (k Kind) String() string {
	switch k {
	case Exchange:
		return "EXCHANGE"
	case CardPayment:
		return "CARD_PAYMENT"
	case Transfer:
		return "TRANSFER"
	}
	return "OTHER"
}

// ParseKind maps an export type column to a Kind. Unknown types (TOPUP,
// CASHBACK, REWARD, ...) map to Other.
func ParseKind(s string) Kind {
	switch normalize(s) {
	case "exchange":
		return Exchange
	case "card_payment", "card payment":
		return CardPayment
	case "transfer":
		return Transfer
	}
	return Other
}

// Account is the account class a leg belongs to.
type Account int

const (
	Current Account = iota
	Savings
)

// Accounts lists the account classes in disposal priority order.
var Accounts = []Account{Current, Savings}

func (a Account) String() string {
	if a == Savings {
		return "Savings"
	}
	return "Current"
}

// ParseAccount maps a product column to an Account. The second return value
// is false for unknown products.
func ParseAccount(s string) (Account, bool) {
	switch normalize(s) {
	case "current", "":
		return Current, true
	case "savings", "vault":
		return Savings, true
	}
	return Current, false
}

const StateCompleted = "completed"

// Transaction is one leg of the ledger. Amount is positive for an
// acquisition and negative for a disposal; the fiat fields are in
// BaseCurrency. Unpriced legs carry no fiat value at all.
type Transaction struct {
	Kind               Kind
	Account            Account
	Timestamp          time.Time
	Description        string
	Currency           string
	Amount             decimal.Decimal
	FiatAmount         decimal.Decimal
	FiatAmountWithFees decimal.Decimal
	Fee                decimal.Decimal
	BaseCurrency       string
	State              string
	Unpriced           bool

	Source string
	Line   int
}

// Completed reports whether the record reached the completed state.
func (t Transaction) Completed() bool {
	return normalize(t.State) == StateCompleted
}

func (t Transaction) IsAcquisition() bool {
	return t.Amount.IsPositive()
}

func (t Transaction) IsDisposal() bool {
	return t.Amount.IsNegative()
}

// SameCurrency compares two tickers case-insensitively.
func SameCurrency(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// IsFiat reports whether asset is a fiat currency. The configured base
// currency always counts as fiat.
func IsFiat(asset, base string) bool {
	a := normalize(asset)
	if a == "" {
		return false
	}
	if SameCurrency(a, base) {
		return true
	}
	switch a {
	case "eur", "usd", "gbp", "chf", "cad", "aud", "jpy", "sek", "nok", "dkk", "pln":
		return true
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
