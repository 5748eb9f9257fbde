// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

// Command cryptotax computes average cost capital gains from Revolut crypto
// statements and prints a report or a K4 SRU file.
//
// Usage: cryptotax [-base-currency SEK] [-currency ALL] [-year YYYY] [-sum] [-sru-org-num NUM] [-exchanges-only|-print-trades] [-v] file1.csv [file2.csv ...]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cryptotax/internal/config"
	"cryptotax/internal/costbasis"
	"cryptotax/internal/gains"
	"cryptotax/internal/ledger"
	"cryptotax/internal/logger"
	"cryptotax/internal/reader"
	"cryptotax/internal/report"
	"cryptotax/internal/sru"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, time.Now))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, now func() time.Time) int {
	cfg, err := config.Parse("cryptotax", args, stderr)
	if errors.Is(err, config.ErrUsage) {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	log := logger.New(cfg.LogLevel, stderr)
	if err := execute(ctx, cfg, log, stdout, now); err != nil {
		log.WithError(err).Error("cryptotax failed")
		return 1
	}
	return 0
}

func execute(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, stdout io.Writer, now func() time.Time) error {
	txs, err := reader.New(log).ReadFiles(ctx, cfg.Files)
	if err != nil {
		return err
	}
	if cfg.ExchangesOnly {
		return report.WriteLedger(stdout, reader.Exchanges(txs))
	}
	if cfg.PrintTrades {
		return report.WriteTrades(stdout, ledger.Trades(txs, cfg.BaseCurrency))
	}

	engine := costbasis.NewEngine(cfg.BaseCurrency, log)
	disposals, err := engine.Process(txs)
	if err != nil {
		return errors.Wrap(err, "processing error")
	}
	r := gains.Aggregate(disposals, gains.Filter{Year: cfg.Year, Currency: cfg.Currency})
	if n := r.Unresolved(); n > 0 {
		log.WithField("rows", n).Warn("some disposals could not be traced to fiat; their net income is left blank")
	}

	switch {
	case cfg.SRUOrgNum != "":
		f, err := sru.New(r.Summaries, sru.Identity{OrgNum: cfg.SRUOrgNum, Name: cfg.SRUName}, cfg.FilingYear(now()))
		if err != nil {
			return err
		}
		f.Now = now
		if _, err := f.WriteTo(stdout); err != nil {
			return err
		}
	case cfg.Sum:
		if err := report.WriteSummary(stdout, r.Summaries); err != nil {
			return err
		}
	default:
		if err := report.WriteDetail(stdout, r.Rows); err != nil {
			return err
		}
	}

	if cfg.PDFPath != "" {
		if err := writePDF(cfg, r, now); err != nil {
			return err
		}
		log.WithField("path", cfg.PDFPath).Info("wrote PDF report")
	}

	holdings := engine.Registry().Snapshot()
	for _, h := range holdings {
		log.WithFields(logrus.Fields{
			"currency": h.Currency,
			"account":  h.Account.String(),
			"quantity": h.Quantity.String(),
			"cost":     h.Cost.String(),
		}).Debug("holding")
	}
	if cfg.Holdings {
		printHoldings(stdout, holdings)
	}
	return nil
}

func writePDF(cfg *config.Config, r gains.Report, now func() time.Time) error {
	f, err := os.Create(cfg.PDFPath)
	if err != nil {
		return errors.Wrap(err, "create pdf")
	}
	p := report.PDF{Title: "Crypto capital gains", BaseCurrency: cfg.BaseCurrency, Now: now}
	if err := p.Write(f, r); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "close pdf")
}

func printHoldings(w io.Writer, holdings []costbasis.Holding) {
	fmt.Fprintln(w, "Holdings:")
	for _, h := range holdings {
		fmt.Fprintf(w, "  %s %s: quantity=%s cost=%s\n",
			h.Currency,
			h.Account,
			h.Quantity.String(),
			h.Cost.String(),
		)
	}
}
