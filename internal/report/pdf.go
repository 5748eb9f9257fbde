// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package report

import (
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/phpdave11/gofpdf"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"cryptotax/internal/costbasis"
	"cryptotax/internal/gains"
)

// PDF lays out a gains report on A4 pages.
type PDF struct {
	Title        string
	BaseCurrency string
	// Now stamps the footer; time.Now when nil.
	Now func() time.Time
}

var (
	detailWidths  = []float64{36, 18, 30, 30, 40, 28}
	summaryWidths = []float64{22, 16, 30, 34, 34, 34, 12}
)

// money renders d with digits fraction digits and groups the thousands of
// the integer part.
func money(d decimal.Decimal, digits int32) string {
	s := d.StringFixed(digits)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i:]
	}
	n, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return sign + s
	}
	return sign + humanize.BigComma(n) + frac
}

// costCell marks rows whose basis is not fully known.
func costCell(d costbasis.Disposal) string {
	cost := money(d.FiatCost(), rowDigits)
	if !d.Resolved() {
		cost += " *"
	}
	return cost
}

func tableHeader(pdf *gofpdf.Fpdf, widths []float64, titles []string) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(245, 245, 245)
	pdf.SetTextColor(20, 20, 20)
	for i, t := range titles {
		ln := 0
		if i == len(titles)-1 {
			ln = 1
		}
		pdf.CellFormat(widths[i], 7, t, "1", ln, "C", true, 0, "")
	}
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(30, 30, 30)
}

func tableRow(pdf *gofpdf.Fpdf, widths []float64, cells []string) {
	for i, c := range cells {
		ln, align := 0, "R"
		if i == len(cells)-1 {
			ln = 1
		}
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(widths[i], 6, c, "1", ln, align, false, 0, "")
	}
}

// Write renders r to w.
func (p PDF) Write(w io.Writer, r gains.Report) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(p.Title, false)
	pdf.SetMargins(12, 14, 12)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, p.Title)
	pdf.Ln(9)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	year := "all"
	if r.Filter.Year != 0 {
		year = fmt.Sprint(r.Filter.Year)
	}
	currency := r.Filter.Currency
	if currency == "" {
		currency = gains.AllCurrencies
	}
	pdf.Cell(0, 6, fmt.Sprintf("Year: %s   Currency: %s   Amounts in %s", year, currency, p.BaseCurrency))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(20, 20, 20)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)
	tableHeader(pdf, summaryWidths, summaryHeader)
	for _, s := range r.Summaries {
		tableRow(pdf, summaryWidths, []string{
			s.Currency,
			fmt.Sprint(s.Count),
			money(s.Amount, 4),
			money(s.Income, summaryDigits),
			money(s.Cost, summaryDigits),
			money(s.NetIncome, summaryDigits),
			fmt.Sprint(s.Unresolved),
		})
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Disposals")
	pdf.Ln(8)
	tableHeader(pdf, detailWidths, detailHeader)
	for _, d := range r.Rows {
		if pdf.GetY() > 270 {
			pdf.AddPage()
			tableHeader(pdf, detailWidths, detailHeader)
		}
		net := ""
		if v, ok := d.NetIncome(); ok {
			net = money(v, rowDigits)
		}
		tableRow(pdf, detailWidths, []string{
			d.Timestamp.Format(DateLayout),
			d.Currency,
			money(d.Amount, rowDigits),
			money(d.Income, rowDigits),
			costCell(d),
			net,
		})
	}
	if r.Unresolved() > 0 {
		pdf.Ln(3)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.MultiCell(0, 5, "* cost not fully traced to fiat or holdings short of the disposed amount; net income left blank", "", "L", false)
	}

	pdf.SetY(-18)
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(120, 120, 120)
	pdf.CellFormat(0, 10, "Generated "+now().Format(time.RFC3339), "", 0, "C", false, 0, "")

	if err := pdf.Output(w); err != nil {
		return errors.Wrap(err, "pdf build failed")
	}
	return nil
}
