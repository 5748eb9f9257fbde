// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

// Package sru writes the Skatteverket K4 form (section D, other assets) in
// the SRU transfer format.
package sru

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"cryptotax/internal/gains"
)

// GroupsPerForm is how many section D rows fit on one K4 form.
const GroupsPerForm = 7

var (
	ErrUnresolved = errors.New("summary has rows without a net income")
	ErrNoIdentity = errors.New("missing taxpayer number")
)

// Identity is the taxpayer the forms are filed for.
type Identity struct {
	// OrgNum is the person or organisation number, SSÅÅMMDDNNNK.
	OrgNum string
	Name   string
}

type field struct {
	code  string
	value string
}

// Form is one #BLANKETT block.
type Form struct {
	Year   int
	Groups [][]field
}

// File is the complete SRU document.
type File struct {
	Identity Identity
	Forms    []Form
	// Now stamps #IDENTITET; time.Now when nil.
	Now func() time.Time
}

func round(d decimal.Decimal) string {
	return d.Abs().Round(0).String()
}

func group(i int, s gains.Summary) []field {
	code := func(n int) string { return fmt.Sprintf("34%d%d", i, n) }
	fields := []field{
		{code(0), round(s.Amount)},
		{code(1), s.Currency},
		{code(2), round(s.Income)},
		{code(3), round(s.Cost)},
	}
	if s.NetIncome.IsNegative() {
		return append(fields, field{code(5), round(s.NetIncome)})
	}
	return append(fields, field{code(4), round(s.NetIncome)})
}

// New lays the summaries out on as many forms as needed. Every summary must
// be fully resolved.
func New(summaries []gains.Summary, id Identity, year int) (*File, error) {
	if strings.TrimSpace(id.OrgNum) == "" {
		return nil, ErrNoIdentity
	}
	f := &File{Identity: id}
	for _, s := range summaries {
		if !s.Resolved() {
			return nil, errors.Wrapf(ErrUnresolved, "%s: %d unresolved", s.Currency, s.Unresolved)
		}
		if len(f.Forms) == 0 || len(f.Forms[len(f.Forms)-1].Groups) == GroupsPerForm {
			f.Forms = append(f.Forms, Form{Year: year})
		}
		form := &f.Forms[len(f.Forms)-1]
		form.Groups = append(form.Groups, group(len(form.Groups)+1, s))
	}
	if len(f.Forms) == 0 {
		f.Forms = append(f.Forms, Form{Year: year})
	}
	return f, nil
}

// WriteTo renders the document.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	stamp := now()

	cw := &countingWriter{w: bufio.NewWriter(w)}
	for i, form := range f.Forms {
		cw.line("#BLANKETT K4-%dP4", form.Year)
		cw.line("#IDENTITET %s %s %s", strings.TrimSpace(f.Identity.OrgNum), stamp.Format("20060102"), stamp.Format("150405"))
		if name := strings.TrimSpace(f.Identity.Name); name != "" {
			cw.line("#NAMN %s", name)
		}
		cw.line("#UPPGIFT 7014 %d", i+1)
		for _, g := range form.Groups {
			for _, fl := range g {
				cw.line("#UPPGIFT %s %s", fl.code, fl.value)
			}
		}
		cw.line("#BLANKETTSLUT")
	}
	cw.line("#FIL_SLUT")
	if cw.err == nil {
		cw.err = cw.w.Flush()
	}
	return cw.n, errors.Wrap(cw.err, "write sru")
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) line(format string, args ...interface{}) {
	if c.err != nil {
		return
	}
	n, err := fmt.Fprintf(c.w, format+"\n", args...)
	c.n += int64(n)
	c.err = err
}
