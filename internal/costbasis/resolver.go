// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package costbasis

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"cryptotax/internal/ledger"
)

type settlementKey struct {
	currency string
	at       int64
}

func keyOf(currency string, at time.Time) settlementKey {
	return settlementKey{canonical(currency), at.UnixNano()}
}

// settlement is the basis removed from a currency's pools by the disposals
// at one timestamp. Pending components referring to (currency, timestamp)
// are resolved against it.
type settlement struct {
	quantity decimal.Decimal
	cost     Cost
}

// Draw is the part of a disposal taken from one account class.
type Draw struct {
	Account  ledger.Account
	Quantity decimal.Decimal
	Cost     Cost
}

// Resolution is the outcome of disposing a quantity of one currency.
type Resolution struct {
	Currency  string
	Timestamp time.Time
	Requested decimal.Decimal
	Draws     []Draw
	// Cost is the basis of the drawn units after walking every pending
	// component as far as the ledger allows.
	Cost Cost
	// Shortfall is the part of Requested that no pool could cover.
	Shortfall decimal.Decimal
}

// Resolver computes the cost basis of disposals. It borrows the registry and
// remembers what each disposal removed, so later acquisitions paid with that
// currency can be expressed in fiat.
type Resolver struct {
	registry    *Registry
	settlements map[settlementKey]*settlement
	log         logrus.FieldLogger
}

func NewResolver(registry *Registry, log logrus.FieldLogger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{
		registry:    registry,
		settlements: make(map[settlementKey]*settlement),
		log:         log,
	}
}

// Dispose removes quantity units of currency, Current account first and
// Savings for the remainder. A request larger than both pools consumes what
// is there and reports the rest as Shortfall.
func (r *Resolver) Dispose(currency string, at time.Time, quantity decimal.Decimal) (Resolution, error) {
	res := Resolution{
		Currency:  canonical(currency),
		Timestamp: at,
		Requested: quantity,
		Shortfall: decimal.Zero,
	}
	if !quantity.IsPositive() {
		return res, errors.Errorf("dispose %s %s: quantity must be positive", quantity, currency)
	}

	remaining := quantity
	var drawn Cost
	for _, acct := range ledger.Accounts {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, r.registry.Available(currency, acct))
		if !take.IsPositive() {
			continue
		}
		c, err := r.registry.Debit(currency, acct, take)
		if err != nil {
			return res, errors.Wrapf(ErrInvariantViolation, "clamped debit failed: %v", err)
		}
		res.Draws = append(res.Draws, Draw{Account: acct, Quantity: take, Cost: c})
		drawn = drawn.Merge(c)
		remaining = remaining.Sub(take)
	}
	res.Shortfall = remaining
	res.Cost = r.Resolve(drawn)

	r.settle(res.Currency, at, quantity.Sub(remaining), res.Cost)
	if remaining.IsPositive() {
		r.log.WithFields(logrus.Fields{
			"currency":  res.Currency,
			"time":      at.Format(time.RFC3339),
			"requested": quantity.String(),
			"shortfall": remaining.String(),
		}).Warn("disposal exceeds Current and Savings holdings")
	}
	return res, nil
}

func (r *Resolver) settle(currency string, at time.Time, quantity decimal.Decimal, cost Cost) {
	if !quantity.IsPositive() {
		return
	}
	k := keyOf(currency, at)
	s, ok := r.settlements[k]
	if !ok {
		s = &settlement{quantity: decimal.Zero}
		r.settlements[k] = s
	}
	s.quantity = s.quantity.Add(quantity)
	s.cost = s.cost.Merge(cost)
}

// Resolve expresses as much of c in fiat as the settlements allow. A pending
// component for quantity q of D at t takes the share q/settled of what D's
// disposals at t removed, and the result is resolved again. Components with
// no settlement stay pending.
func (r *Resolver) Resolve(c Cost) Cost {
	return r.resolve(c, map[settlementKey]bool{})
}

func (r *Resolver) resolve(c Cost, walking map[settlementKey]bool) Cost {
	var out Cost
	for _, comp := range c {
		if comp.Tag != Pending {
			out = out.Add(comp)
			continue
		}
		k := keyOf(comp.Currency, comp.Timestamp)
		s, ok := r.settlements[k]
		if !ok || walking[k] {
			out = out.Add(comp)
			continue
		}
		covered := decimal.Min(comp.Amount, s.quantity)
		walking[k] = true
		out = out.Merge(r.resolve(s.cost.Portion(covered, s.quantity), walking))
		delete(walking, k)

		if rest := comp.Amount.Sub(covered); rest.IsPositive() {
			out = out.Add(PendingOn(comp.Currency, rest, comp.Timestamp))
		}
	}
	return out
}
