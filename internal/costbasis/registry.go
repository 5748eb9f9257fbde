// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package costbasis

import (
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"cryptotax/internal/ledger"
)

type poolKey struct {
	currency string
	account  ledger.Account
}

// Registry owns every pool of a run, keyed by currency and account class.
// Pools are created on first use.
type Registry struct {
	pools map[poolKey]*Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[poolKey]*Pool)}
}

func canonical(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func (r *Registry) GetOrCreate(currency string, account ledger.Account) *Pool {
	k := poolKey{canonical(currency), account}
	p, ok := r.pools[k]
	if !ok {
		p = newPool(k.currency, account)
		r.pools[k] = p
	}
	return p
}

// Lookup returns the pool without creating it.
func (r *Registry) Lookup(currency string, account ledger.Account) (*Pool, bool) {
	p, ok := r.pools[poolKey{canonical(currency), account}]
	return p, ok
}

func (r *Registry) Credit(currency string, account ledger.Account, quantity decimal.Decimal, cost Cost) error {
	return r.GetOrCreate(currency, account).Credit(quantity, cost)
}

func (r *Registry) Debit(currency string, account ledger.Account, quantity decimal.Decimal) (Cost, error) {
	return r.GetOrCreate(currency, account).Debit(quantity)
}

// Available is the quantity held in one account class, zero for unknown
// pools.
func (r *Registry) Available(currency string, account ledger.Account) decimal.Decimal {
	if p, ok := r.Lookup(currency, account); ok {
		return p.Quantity()
	}
	return decimal.Zero
}

// Currencies lists every currency that has a pool, sorted.
func (r *Registry) Currencies() []string {
	out := lo.Uniq(lo.Map(lo.Keys(r.pools), func(k poolKey, _ int) string { return k.currency }))
	sort.Strings(out)
	return out
}

// Holding is a read-only view of one non-empty pool.
type Holding struct {
	Currency string
	Account  ledger.Account
	Quantity decimal.Decimal
	Cost     Cost
}

// Snapshot lists the non-empty pools ordered by currency, then account class.
func (r *Registry) Snapshot() []Holding {
	var out []Holding
	for _, cur := range r.Currencies() {
		for _, acct := range ledger.Accounts {
			p, ok := r.Lookup(cur, acct)
			if !ok || p.Quantity().IsZero() {
				continue
			}
			out = append(out, Holding{Currency: cur, Account: acct, Quantity: p.Quantity(), Cost: p.Cost()})
		}
	}
	return out
}
