// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package costbasis

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"cryptotax/internal/ledger"
)

var (
	// ErrInsufficientQuantity is returned by a debit larger than the pool.
	ErrInsufficientQuantity = errors.New("insufficient quantity in pool")
	// ErrInvariantViolation marks a state the engine must never reach.
	// Processing halts when it is returned.
	ErrInvariantViolation = errors.New("cost basis invariant violated")
	// ErrNegativeCredit is returned for a credit with a negative quantity or
	// cost component.
	ErrNegativeCredit = errors.New("credit must not be negative")
)

// Pool is the running average cost of one currency in one account class.
type Pool struct {
	Currency string
	Account  ledger.Account

	quantity decimal.Decimal
	cost     Cost
}

func newPool(currency string, account ledger.Account) *Pool {
	return &Pool{Currency: currency, Account: account, quantity: decimal.Zero}
}

// Quantity is the number of units held and not yet disposed.
func (p *Pool) Quantity() decimal.Decimal { return p.quantity }

// Cost returns a copy of the cost breakdown of the held units.
func (p *Pool) Cost() Cost {
	out := make(Cost, len(p.cost))
	copy(out, p.cost)
	return out
}

// TotalCost is the fiat-settled part of the pool's cost.
func (p *Pool) TotalCost() decimal.Decimal { return p.cost.FiatTotal() }

// AverageUnitCost returns total cost per unit. The second value is false when
// the pool is empty or part of its cost is still pending on another currency.
func (p *Pool) AverageUnitCost() (decimal.Decimal, bool) {
	if !p.quantity.IsPositive() || !p.cost.Resolved() {
		return decimal.Zero, false
	}
	return p.TotalCost().Div(p.quantity), true
}

// Credit adds quantity units bought for cost.
func (p *Pool) Credit(quantity decimal.Decimal, cost Cost) error {
	if quantity.IsNegative() {
		return errors.Wrapf(ErrNegativeCredit, "credit %s %s", quantity, p.Currency)
	}
	if err := cost.validate(); err != nil {
		return errors.Wrapf(err, "credit %s %s", quantity, p.Currency)
	}
	p.quantity = p.quantity.Add(quantity)
	p.cost = p.cost.Merge(cost)
	return nil
}

// Debit removes quantity units and returns the cost they carried. Every
// component loses the same fraction quantity/Quantity(), so the average unit
// cost of what remains is unchanged.
func (p *Pool) Debit(quantity decimal.Decimal) (Cost, error) {
	if quantity.IsNegative() {
		return nil, errors.Errorf("debit of negative quantity %s %s", quantity, p.Currency)
	}
	if quantity.IsZero() {
		return nil, nil
	}
	if quantity.GreaterThan(p.quantity) {
		return nil, errors.Wrapf(ErrInsufficientQuantity, "debit %s %s from %s holding %s",
			quantity, p.Currency, p.Account, p.quantity)
	}
	if quantity.Equal(p.quantity) {
		removed := p.cost
		p.cost = nil
		p.quantity = decimal.Zero
		return removed, nil
	}
	removed := p.cost.Portion(quantity, p.quantity)
	p.cost = p.cost.Sub(removed)
	p.quantity = p.quantity.Sub(quantity)
	if p.quantity.IsNegative() {
		return nil, errors.Wrapf(ErrInvariantViolation, "%s %s quantity went negative: %s",
			p.Currency, p.Account, p.quantity)
	}
	return removed, nil
}
