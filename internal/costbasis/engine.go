// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package costbasis

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"cryptotax/internal/ledger"
)

// Disposal is a resolved disposal, one per disposing transaction.
type Disposal struct {
	Timestamp time.Time
	Kind      ledger.Kind
	Currency  string
	// Amount is the disposed quantity, negative.
	Amount decimal.Decimal
	// Income is the fiat proceeds, fees included.
	Income decimal.Decimal
	// Cost holds positive magnitudes; see FiatCost for the signed figure.
	Cost      Cost
	Shortfall decimal.Decimal
	// Unpriced disposals have no known proceeds.
	Unpriced bool
}

// Resolved reports whether the whole basis was traced to fiat and the
// proceeds are known.
func (d Disposal) Resolved() bool {
	return d.Cost.Resolved() && !d.Shortfall.IsPositive() && !d.Unpriced
}

// FiatCost is the fiat-resolved part of the basis as a non-positive number.
func (d Disposal) FiatCost() decimal.Decimal {
	return d.Cost.FiatTotal().Neg()
}

// NetIncome is Income + FiatCost. It is only defined for resolved disposals.
func (d Disposal) NetIncome() (decimal.Decimal, bool) {
	if !d.Resolved() {
		return decimal.Zero, false
	}
	return d.Income.Add(d.FiatCost()), true
}

type parcel struct {
	quantity decimal.Decimal
	cost     Cost
}

// Engine runs the single chronological pass over the ledger.
type Engine struct {
	base      string
	registry  *Registry
	resolver  *Resolver
	inTransit map[string][]parcel
	disposals []Disposal
	log       logrus.FieldLogger
}

func NewEngine(baseCurrency string, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	registry := NewRegistry()
	return &Engine{
		base:      canonical(baseCurrency),
		registry:  registry,
		resolver:  NewResolver(registry, log),
		inTransit: make(map[string][]parcel),
		log:       log,
	}
}

func (e *Engine) Registry() *Registry { return e.registry }

// group is the set of legs sharing one timestamp. Paired exchange legs always
// land in the same group.
type group struct {
	at   time.Time
	legs []ledger.Transaction
}

// payers are the exchange legs in the group that spend a non-fiat currency
// other than the one being acquired.
func (g group) payers(acquired string, base string) []ledger.Transaction {
	return lo.Filter(g.legs, func(t ledger.Transaction, _ int) bool {
		return t.Kind == ledger.Exchange && t.IsDisposal() &&
			!ledger.IsFiat(t.Currency, base) && !ledger.SameCurrency(t.Currency, acquired)
	})
}

// share is the fraction of the group's paid quantity attributed to tx, by
// fiat value among the acquisition legs that have payers.
func (g group) share(tx ledger.Transaction, base string) (decimal.Decimal, decimal.Decimal) {
	funded := lo.Filter(g.legs, func(t ledger.Transaction, _ int) bool {
		return t.Kind == ledger.Exchange && t.IsAcquisition() && len(g.payers(t.Currency, base)) > 0
	})
	total := lo.Reduce(funded, func(acc decimal.Decimal, t ledger.Transaction, _ int) decimal.Decimal {
		return acc.Add(t.FiatAmountWithFees.Abs())
	}, decimal.Zero)
	if total.IsZero() {
		return decimal.NewFromInt(1), decimal.NewFromInt(int64(len(funded)))
	}
	return tx.FiatAmountWithFees.Abs(), total
}

type txHandlerFunc func(e *Engine, g group, tx ledger.Transaction) error

func getHandlers() map[ledger.Kind]txHandlerFunc {
	return map[ledger.Kind]txHandlerFunc{
		ledger.Exchange:    handleTrade,
		ledger.CardPayment: handleTrade,
		ledger.Transfer:    handleTransfer,
	}
}

// Process folds the ledger into the pools and returns the resolved disposals
// in processing order. Only an invariant violation stops the pass.
func (e *Engine) Process(txs []ledger.Transaction) ([]Disposal, error) {
	handlers := getHandlers()
	accepted := lo.Filter(txs, func(tx ledger.Transaction, _ int) bool { return e.accept(tx, handlers) })
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Timestamp.Before(accepted[j].Timestamp)
	})

	groups := lo.PartitionBy(accepted, func(tx ledger.Transaction) int64 { return tx.Timestamp.UnixNano() })
	for _, legs := range groups {
		g := group{at: legs[0].Timestamp, legs: legs}
		// outflows first: a transfer-in needs its transfer-out and an
		// acquisition needs its payer's settlement
		ordered := append(lo.Filter(legs, func(t ledger.Transaction, _ int) bool { return t.IsDisposal() }),
			lo.Filter(legs, func(t ledger.Transaction, _ int) bool { return t.IsAcquisition() })...)
		for _, tx := range ordered {
			if err := handlers[tx.Kind](e, g, tx); err != nil {
				return e.disposals, errors.Wrapf(err, "%s:%d %s %s %s", tx.Source, tx.Line, tx.Kind, tx.Amount, tx.Currency)
			}
		}
	}

	for cur, parcels := range e.inTransit {
		left := lo.Reduce(parcels, func(acc decimal.Decimal, p parcel, _ int) decimal.Decimal { return acc.Add(p.quantity) }, decimal.Zero)
		if left.IsPositive() {
			e.log.WithFields(logrus.Fields{"currency": cur, "quantity": left.String()}).
				Debug("transferred out and never received back")
		}
	}
	return e.disposals, nil
}

func (e *Engine) accept(tx ledger.Transaction, handlers map[ledger.Kind]txHandlerFunc) bool {
	fields := logrus.Fields{"source": tx.Source, "line": tx.Line, "kind": tx.Kind.String(), "currency": tx.Currency}
	switch {
	case !tx.Completed():
		e.log.WithFields(fields).WithField("state", tx.State).Debug("skipping record that is not completed")
	case handlers[tx.Kind] == nil:
		e.log.WithFields(fields).Debug("skipping non-taxable record")
	case tx.Currency == "" || tx.Timestamp.IsZero():
		e.log.WithFields(fields).Warn("skipping record with missing currency or date")
	case ledger.IsFiat(tx.Currency, e.base):
		e.log.WithFields(fields).Debug("skipping fiat leg")
	case tx.Amount.IsZero():
		e.log.WithFields(fields).Debug("skipping zero amount")
	case tx.BaseCurrency != "" && !ledger.SameCurrency(tx.BaseCurrency, e.base):
		e.log.WithFields(fields).WithField("base", tx.BaseCurrency).Warn("skipping record priced in another base currency")
	default:
		return true
	}
	return false
}

func handleTrade(e *Engine, g group, tx ledger.Transaction) error {
	if tx.IsDisposal() {
		return e.dispose(tx)
	}
	return e.acquire(g, tx)
}

func (e *Engine) acquire(g group, tx ledger.Transaction) error {
	cost := Cost{Fiat(tx.FiatAmountWithFees.Abs())}
	if tx.Unpriced {
		cost = Cost{UntracedOn(tx.Currency, tx.Amount, g.at)}
	}
	if tx.Kind == ledger.Exchange {
		if payers := g.payers(tx.Currency, e.base); len(payers) > 0 {
			num, den := g.share(tx, e.base)
			var pending Cost
			for _, p := range payers {
				pending = pending.Add(PendingOn(p.Currency, p.Amount.Abs().Mul(num).Div(den), g.at))
			}
			cost = e.resolver.Resolve(pending)
		}
	}
	if err := e.registry.Credit(tx.Currency, tx.Account, tx.Amount, cost); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"account":  tx.Account.String(),
		"currency": tx.Currency,
		"amount":   tx.Amount.String(),
		"cost":     cost.String(),
	}).Debug("BUY")
	return nil
}

func (e *Engine) dispose(tx ledger.Transaction) error {
	res, err := e.resolver.Dispose(tx.Currency, tx.Timestamp, tx.Amount.Abs())
	if err != nil {
		return err
	}
	d := Disposal{
		Timestamp: tx.Timestamp,
		Kind:      tx.Kind,
		Currency:  res.Currency,
		Amount:    tx.Amount,
		Income:    tx.FiatAmountWithFees.Abs(),
		Cost:      res.Cost,
		Shortfall: res.Shortfall,
		Unpriced:  tx.Unpriced,
	}
	e.disposals = append(e.disposals, d)

	entry := e.log.WithFields(logrus.Fields{
		"currency": d.Currency,
		"amount":   d.Amount.String(),
		"income":   d.Income.String(),
		"cost":     d.Cost.String(),
	})
	entry.Debug("SELL")
	for _, dr := range res.Draws {
		entry.WithFields(logrus.Fields{"account": dr.Account.String(), "use": dr.Quantity.String(), "basis": dr.Cost.String()}).
			Debug("  consumed pool")
	}
	return nil
}

// handleTransfer moves basis between account classes. The outgoing leg parks
// the removed cost in transit; the incoming leg takes it back in order.
func handleTransfer(e *Engine, g group, tx ledger.Transaction) error {
	cur := canonical(tx.Currency)
	qty := tx.Amount.Abs()
	if tx.IsDisposal() {
		take := decimal.Min(qty, e.registry.Available(cur, tx.Account))
		cost, err := e.registry.Debit(cur, tx.Account, take)
		if err != nil {
			return errors.Wrapf(ErrInvariantViolation, "clamped transfer debit failed: %v", err)
		}
		if short := qty.Sub(take); short.IsPositive() {
			e.log.WithFields(logrus.Fields{"currency": cur, "account": tx.Account.String(), "shortfall": short.String()}).
				Warn("transfer exceeds holdings")
			cost = cost.Add(UntracedOn(cur, short, g.at))
		}
		e.inTransit[cur] = append(e.inTransit[cur], parcel{quantity: qty, cost: cost})
		e.log.WithFields(logrus.Fields{"currency": cur, "from": tx.Account.String(), "amount": qty.String(), "cost": cost.String()}).
			Debug("TRANSFER out")
		return nil
	}

	remaining := qty
	var cost Cost
	parcels := e.inTransit[cur]
	for len(parcels) > 0 && remaining.IsPositive() {
		p := &parcels[0]
		use := decimal.Min(p.quantity, remaining)
		part := p.cost.Portion(use, p.quantity)
		if use.Equal(p.quantity) {
			part = p.cost
			parcels = parcels[1:]
		} else {
			p.cost = p.cost.Sub(part)
			p.quantity = p.quantity.Sub(use)
		}
		cost = cost.Merge(part)
		remaining = remaining.Sub(use)
	}
	e.inTransit[cur] = parcels
	if remaining.IsPositive() {
		// received from outside the ledger; its basis cannot be traced here
		cost = cost.Add(UntracedOn(cur, remaining, g.at))
	}
	if err := e.registry.Credit(cur, tx.Account, qty, cost); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"currency": cur, "to": tx.Account.String(), "amount": qty.String(), "cost": cost.String()}).
		Debug("TRANSFER in")
	return nil
}
