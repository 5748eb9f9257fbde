// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package costbasis

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Tag tells whether a cost component is already expressed in the base
// currency or still owed by another currency's pool.
type Tag int

const (
	FiatSettled Tag = iota
	Pending
	// Untraced marks units whose origin lies outside the ledger. It never
	// resolves.
	Untraced
)

// Component is one part of a cost basis. For FiatSettled, Amount is the cost
// in the base currency. For Pending, Amount is the quantity of Currency that
// was spent at Timestamp; its fiat value is whatever basis that quantity had
// in Currency's pools at that moment.
//
// Amounts are magnitudes and never negative.
type Component struct {
	Tag       Tag
	Amount    decimal.Decimal
	Currency  string
	Timestamp time.Time
}

func Fiat(amount decimal.Decimal) Component {
	return Component{Tag: FiatSettled, Amount: amount}
}

func PendingOn(currency string, quantity decimal.Decimal, at time.Time) Component {
	return Component{Tag: Pending, Amount: quantity, Currency: strings.ToUpper(currency), Timestamp: at}
}

// UntracedOn is the basis of quantity units of currency that entered at at
// without a traceable source.
func UntracedOn(currency string, quantity decimal.Decimal, at time.Time) Component {
	return Component{Tag: Untraced, Amount: quantity, Currency: strings.ToUpper(currency), Timestamp: at}
}

func (c Component) IsFiat() bool { return c.Tag == FiatSettled }

func (c Component) sameSlot(o Component) bool {
	if c.Tag != o.Tag {
		return false
	}
	if c.Tag == FiatSettled {
		return true
	}
	return c.Currency == o.Currency && c.Timestamp.Equal(o.Timestamp)
}

func (c Component) String() string {
	if c.IsFiat() {
		return c.Amount.String()
	}
	if c.Tag == Untraced {
		return fmt.Sprintf("(%s %s untraced %s)", c.Amount.String(), c.Currency, c.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return fmt.Sprintf("(%s %s %s)", c.Amount.String(), c.Currency, c.Timestamp.Format("2006-01-02 15:04:05"))
}

// Cost is a breakdown of components. At most one FiatSettled component and
// one Pending or Untraced component per (currency, timestamp) are kept; order follows
// first appearance.
type Cost []Component

// Add merges o into a copy of c.
func (c Cost) Add(o ...Component) Cost {
	out := make(Cost, len(c), len(c)+len(o))
	copy(out, c)
	for _, comp := range o {
		if comp.Amount.IsZero() {
			continue
		}
		merged := false
		for i := range out {
			if out[i].sameSlot(comp) {
				out[i].Amount = out[i].Amount.Add(comp.Amount)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, comp)
		}
	}
	return out
}

// Merge returns the sum of c and o.
func (c Cost) Merge(o Cost) Cost {
	return c.Add(o...)
}

// Portion returns the share num/den of every component.
func (c Cost) Portion(num, den decimal.Decimal) Cost {
	if den.IsZero() {
		return nil
	}
	out := make(Cost, 0, len(c))
	for _, comp := range c {
		comp.Amount = comp.Amount.Mul(num).Div(den)
		if comp.Amount.IsZero() {
			continue
		}
		out = append(out, comp)
	}
	return out
}

// Sub removes o from c component by component. Components that drop to zero
// are removed.
func (c Cost) Sub(o Cost) Cost {
	out := make(Cost, 0, len(c))
	for _, comp := range c {
		for _, rm := range o {
			if comp.sameSlot(rm) {
				comp.Amount = comp.Amount.Sub(rm.Amount)
			}
		}
		if comp.Amount.IsZero() {
			continue
		}
		out = append(out, comp)
	}
	return out
}

// FiatTotal is the sum of the fiat-settled components.
func (c Cost) FiatTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, comp := range c {
		if comp.IsFiat() {
			sum = sum.Add(comp.Amount)
		}
	}
	return sum
}

// Pending lists the components that are not yet expressed in fiat.
func (c Cost) Pending() []Component {
	var out []Component
	for _, comp := range c {
		if !comp.IsFiat() {
			out = append(out, comp)
		}
	}
	return out
}

// Resolved reports whether every component is fiat-settled.
func (c Cost) Resolved() bool {
	return len(c.Pending()) == 0
}

func (c Cost) validate() error {
	for _, comp := range c {
		if comp.Amount.IsNegative() {
			return errors.Wrapf(ErrNegativeCredit, "negative cost component %s", comp)
		}
	}
	return nil
}

func (c Cost) String() string {
	parts := make([]string, 0, len(c))
	for _, comp := range c {
		parts = append(parts, comp.String())
	}
	return strings.Join(parts, ", ")
}
