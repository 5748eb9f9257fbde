// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

// Package reader turns Revolut account statement exports into ledger
// transactions ordered by time.
package reader

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"cryptotax/internal/ledger"
)

// Column names of the statement export.
const (
	colType        = "type"
	colProduct     = "product"
	colStarted     = "started date"
	colCompleted   = "completed date"
	colDescription = "description"
	colAmount      = "amount"
	colCurrency    = "currency"
	colFiat        = "fiat amount"
	colFiatFees    = "fiat amount (inc. fees)"
	colFee         = "fee"
	colBase        = "base currency"
	colState       = "state"
)

var requiredColumns = []string{colType, colStarted, colAmount, colCurrency, colFiatFees, colState}

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing column")

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimeGuess(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unable to parse time: %q", s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid number %q", s)
	}
	return d, nil
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// Reader parses statement exports. Rows that cannot be parsed are skipped and
// logged; they never reach the engine.
type Reader struct {
	log logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Reader {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reader{log: log}
}

// ReadFile parses one export file.
func (r *Reader) ReadFile(path string) ([]ledger.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open statement")
	}
	defer f.Close()
	return r.Read(f, filepath.Base(path))
}

// Statement dialects, told apart by their header.
const (
	format2023 = "revolut-2023"
	format2022 = "revolut-2022"
)

// detectFormat picks the dialect from the header. The 2022 export prices card
// payments through its Original columns and has no fiat amount columns.
func detectFormat(headerIdx map[string]int) string {
	if _, ok := headerIdx[colOriginalAmount]; ok {
		if _, ok2 := headerIdx[colOriginalCurrency]; ok2 {
			return format2022
		}
	}
	return format2023
}

type rawRow struct {
	rec  map[string]string
	line int
}

// Read parses an export from in. source names the input in diagnostics.
func (r *Reader) Read(in io.Reader, source string) ([]ledger.Transaction, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	headerIdx, err := readHeader(cr)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: header", source)
	}
	format := detectFormat(headerIdx)
	required := requiredColumns
	if format == format2022 {
		required = requiredColumns2022
	}
	for _, c := range required {
		if _, ok := headerIdx[c]; !ok {
			return nil, errors.Wrapf(ErrMissingColumn, "%s: header: %q", source, c)
		}
	}

	var rows []rawRow
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s: read", source)
		}
		if blank(row) {
			continue
		}
		line, _ := cr.FieldPos(0)
		record := make(map[string]string, len(headerIdx))
		for k, i := range headerIdx {
			if i < len(row) {
				record[k] = row[i]
			}
		}
		rows = append(rows, rawRow{rec: record, line: line})
	}

	var parsed []ledger.Transaction
	if format == format2022 {
		parsed = r.parse2022(rows, source)
	} else {
		for _, row := range rows {
			tx, err := parseRecord(row.rec)
			if err != nil {
				r.log.WithFields(logrus.Fields{"source": source, "line": row.line}).WithError(err).Warn("skipping row due to parse error")
				continue
			}
			tx.Line = row.line
			parsed = append(parsed, tx)
		}
	}

	var txs []ledger.Transaction
	for _, tx := range parsed {
		tx.Source = source
		if !tx.Completed() {
			r.log.WithFields(logrus.Fields{"source": source, "line": tx.Line, "state": tx.State}).Debug("skipping row that is not completed")
			continue
		}
		txs = append(txs, tx)
	}

	r.log.WithFields(logrus.Fields{"source": source, "format": format, "count": len(txs)}).Debug("parsed statement")
	return txs, nil
}

func readHeader(cr *csv.Reader) (map[string]int, error) {
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil, errors.New("empty input")
		}
		if err != nil {
			return nil, err
		}
		if blank(row) {
			continue
		}
		idx := make(map[string]int, len(row))
		for i, h := range row {
			idx[strings.ToLower(strings.TrimSpace(h))] = i
		}
		return idx, nil
	}
}

func blank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseRecord(record map[string]string) (ledger.Transaction, error) {
	var tx ledger.Transaction

	when := firstNonEmpty(record, colStarted, colCompleted)
	if when == "" {
		return tx, errors.New("no date")
	}
	t, err := parseTimeGuess(when)
	if err != nil {
		return tx, err
	}
	account, ok := ledger.ParseAccount(record[colProduct])
	if !ok {
		return tx, errors.Errorf("unknown product %q", record[colProduct])
	}
	currency := strings.ToUpper(firstNonEmpty(record, colCurrency))
	if currency == "" {
		return tx, errors.New("no currency")
	}

	tx = ledger.Transaction{
		Kind:         ledger.ParseKind(record[colType]),
		Account:      account,
		Timestamp:    t,
		Description:  strings.TrimSpace(record[colDescription]),
		Currency:     currency,
		BaseCurrency: strings.ToUpper(firstNonEmpty(record, colBase)),
		State:        firstNonEmpty(record, colState),
	}
	for _, f := range []struct {
		col string
		dst *decimal.Decimal
	}{
		{colAmount, &tx.Amount},
		{colFiat, &tx.FiatAmount},
		{colFiatFees, &tx.FiatAmountWithFees},
		{colFee, &tx.Fee},
	} {
		v, err := parseDecimal(record[f.col])
		if err != nil {
			return tx, errors.Wrap(err, f.col)
		}
		*f.dst = v
	}
	return tx, nil
}

// ReadFiles parses every path concurrently and merges the results into one
// chronological ledger. Ties keep the order of the paths, then of the rows.
func (r *Reader) ReadFiles(ctx context.Context, paths []string) ([]ledger.Transaction, error) {
	chunks := make([][]ledger.Transaction, len(paths))
	eg, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			txs, err := r.ReadFile(p)
			if err != nil {
				return errors.Wrapf(err, "error parsing %s", p)
			}
			chunks[i] = txs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return Merge(chunks), nil
}

// Merge concatenates chunks and sorts them by time, keeping input order for
// equal timestamps.
func Merge(chunks [][]ledger.Transaction) []ledger.Transaction {
	var merged []ledger.Transaction
	for _, chunk := range chunks {
		merged = append(merged, chunk...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// Exchanges keeps the Exchange legs only.
func Exchanges(txs []ledger.Transaction) []ledger.Transaction {
	return lo.Filter(txs, func(tx ledger.Transaction, _ int) bool { return tx.Kind == ledger.Exchange })
}
