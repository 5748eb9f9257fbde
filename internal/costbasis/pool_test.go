// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package costbasis

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"cryptotax/internal/ledger"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPoolAverageCostIsInvariantUnderDebit(t *testing.T) {
	g := NewWithT(t)

	p := newPool("EOS", ledger.Current)
	g.Expect(p.Credit(d("30"), Cost{Fiat(d("609.15"))})).To(Succeed())
	g.Expect(p.Credit(d("70"), Cost{Fiat(d("1500"))})).To(Succeed())

	before, ok := p.AverageUnitCost()
	g.Expect(ok).To(BeTrue())

	removed, err := p.Debit(d("33"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(removed.FiatTotal().Equal(before.Mul(d("33")))).To(BeTrue(), removed.String())

	after, ok := p.AverageUnitCost()
	g.Expect(ok).To(BeTrue())
	g.Expect(after.StringFixed(10)).To(Equal(before.StringFixed(10)))
	g.Expect(p.Quantity().String()).To(Equal("67"))
}

func TestPoolConservation(t *testing.T) {
	g := NewWithT(t)

	p := newPool("BTC", ledger.Savings)
	credits := []string{"0.5", "1.25", "2"}
	for _, q := range credits {
		g.Expect(p.Credit(d(q), Cost{Fiat(d("1000"))})).To(Succeed())
	}
	for _, q := range []string{"0.75", "1"} {
		_, err := p.Debit(d(q))
		g.Expect(err).NotTo(HaveOccurred())
	}
	g.Expect(p.Quantity().String()).To(Equal("2"))

	_, err := p.Debit(d("2"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(p.Quantity().IsZero()).To(BeTrue())
	g.Expect(p.TotalCost().IsZero()).To(BeTrue())
	_, ok := p.AverageUnitCost()
	g.Expect(ok).To(BeFalse())
}

func TestPoolRejectsOverdraw(t *testing.T) {
	g := NewWithT(t)

	p := newPool("ETH", ledger.Current)
	g.Expect(p.Credit(d("1"), Cost{Fiat(d("10"))})).To(Succeed())

	_, err := p.Debit(d("1.0001"))
	g.Expect(errors.Is(err, ErrInsufficientQuantity)).To(BeTrue())
	g.Expect(p.Quantity().String()).To(Equal("1"))
	g.Expect(p.TotalCost().String()).To(Equal("10"))
}

func TestPoolRejectsNegativeCredit(t *testing.T) {
	g := NewWithT(t)

	p := newPool("ETH", ledger.Current)
	err := p.Credit(d("-1"), Cost{Fiat(d("10"))})
	g.Expect(errors.Is(err, ErrNegativeCredit)).To(BeTrue())
	err = p.Credit(d("1"), Cost{Fiat(d("-10"))})
	g.Expect(errors.Is(err, ErrNegativeCredit)).To(BeTrue())
	g.Expect(errors.Cause(err)).To(Equal(ErrNegativeCredit))
	g.Expect(err.Error()).To(Equal("credit 1 ETH: negative cost component -10: credit must not be negative"))
	g.Expect(p.Quantity().IsZero()).To(BeTrue())
}

func TestPoolDebitCarriesBlendedComponents(t *testing.T) {
	g := NewWithT(t)

	at := ts("2023-03-01 10:00:00")
	p := newPool("DOGE", ledger.Current)
	g.Expect(p.Credit(d("100"), Cost{Fiat(d("50"))})).To(Succeed())
	g.Expect(p.Credit(d("300"), Cost{PendingOn("EOS", d("40"), at)})).To(Succeed())

	removed, err := p.Debit(d("100"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(removed).To(HaveLen(2))
	g.Expect(removed.FiatTotal().String()).To(Equal("12.5"))
	g.Expect(removed.Pending()).To(HaveLen(1))
	g.Expect(removed.Pending()[0].Currency).To(Equal("EOS"))
	g.Expect(removed.Pending()[0].Amount.String()).To(Equal("10"))

	g.Expect(p.TotalCost().String()).To(Equal("37.5"))
	g.Expect(p.Cost().Pending()[0].Amount.String()).To(Equal("30"))
	_, ok := p.AverageUnitCost()
	g.Expect(ok).To(BeFalse())
}

func TestRegistrySnapshot(t *testing.T) {
	g := NewWithT(t)

	r := NewRegistry()
	g.Expect(r.Credit("eth", ledger.Savings, d("2"), Cost{Fiat(d("20"))})).To(Succeed())
	g.Expect(r.Credit("BTC", ledger.Current, d("1"), Cost{Fiat(d("300"))})).To(Succeed())
	g.Expect(r.Credit("ETH", ledger.Current, d("1"), Cost{Fiat(d("9"))})).To(Succeed())
	r.GetOrCreate("ADA", ledger.Current)

	g.Expect(r.Currencies()).To(Equal([]string{"ADA", "BTC", "ETH"}))
	g.Expect(r.Available("Eth", ledger.Savings).String()).To(Equal("2"))

	snap := r.Snapshot()
	g.Expect(snap).To(HaveLen(3))
	g.Expect(snap[0].Currency).To(Equal("BTC"))
	g.Expect(snap[1].Currency).To(Equal("ETH"))
	g.Expect(snap[1].Account).To(Equal(ledger.Current))
	g.Expect(snap[2].Account).To(Equal(ledger.Savings))
}
