// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

const statement = `Type,Product,Started Date,Completed Date,Description,Amount,Currency,Fiat amount,Fiat amount (inc. fees),Fee,Base currency,State,Balance
EXCHANGE,Current,2023-01-01 10:00:00,2023-01-01 10:00:00,Exchanged to EOS,100.0000,EOS,600.00,609.15,9.15,SEK,COMPLETED,100.0000
EXCHANGE,Savings,2023-01-02 10:00:00,2023-01-02 10:00:00,Exchanged to EOS,50.0000,EOS,300.00,304.15,4.15,SEK,COMPLETED,50.0000
EXCHANGE,Current,2023-02-01 10:00:00,2023-02-01 10:00:00,Exchanged to SEK,-30.0000,EOS,-400.00,-394.86,5.14,SEK,COMPLETED,70.0000
CARD_PAYMENT,Current,2023-03-01 10:00:00,2023-03-01 10:00:00,Payment to Amazon,-25.0000,EOS,-500.00,-495.75,4.25,SEK,COMPLETED,45.0000
TOPUP,Current,2023-03-02 10:00:00,2023-03-02 10:00:00,Top up,1000.00,SEK,1000.00,1000.00,0.00,SEK,COMPLETED,1000.00
EXCHANGE,Current,2023-03-03 10:00:00,2023-03-03 10:00:00,Exchanged to EOS,5.0000,EOS,50.00,51.00,1.00,SEK,DECLINED,45.0000
`

func writeStatement(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statement.csv")
	if err := os.WriteFile(path, []byte(statement), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func fixedNow() time.Time {
	return time.Date(2024, 2, 10, 9, 30, 0, 0, time.UTC)
}

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"CRYPTOTAX_BASE_CURRENCY", "CRYPTOTAX_CURRENCY", "CRYPTOTAX_YEAR",
		"CRYPTOTAX_SRU_ORG_NUM", "CRYPTOTAX_SRU_NAME", "CRYPTOTAX_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr, fixedNow)
	return code, stdout.String(), stderr.String()
}

func TestRunDetail(t *testing.T) {
	g := NewWithT(t)
	clearEnv(t)

	code, out, _ := runCLI(writeStatement(t))
	g.Expect(code).To(Equal(0))
	g.Expect(out).To(Equal(
		"Date;Currency;Amount;Income;Cost;Net Income\n" +
			"2023-02-01 10:00:00;EOS;-30.0000;394.8600;-182.7450;212.1150\n" +
			"2023-03-01 10:00:00;EOS;-25.0000;495.7500;-152.2875;343.4625\n"))
}

func TestRunSummaryAndHoldings(t *testing.T) {
	g := NewWithT(t)
	clearEnv(t)

	code, out, _ := runCLI("-sum", "-holdings", "-year", "2023", writeStatement(t))
	g.Expect(code).To(Equal(0))
	g.Expect(out).To(ContainSubstring("EOS;2;-55.00;890.61;-335.03;555.58;0\n"))
	g.Expect(out).To(ContainSubstring("Holdings:\n  EOS Current: quantity=45 cost=274.1175\n  EOS Savings: quantity=50 cost=304.15\n"))
}

func TestRunSRU(t *testing.T) {
	g := NewWithT(t)
	clearEnv(t)

	code, out, _ := runCLI("-sru-org-num", "195001011234", "-sru-name", "Test Testsson", writeStatement(t))
	g.Expect(code).To(Equal(0))
	g.Expect(out).To(HavePrefix("#BLANKETT K4-2023P4\n#IDENTITET 195001011234 20240210 093000\n#NAMN Test Testsson\n"))
	g.Expect(out).To(ContainSubstring("#UPPGIFT 3410 55\n#UPPGIFT 3411 EOS\n#UPPGIFT 3412 891\n#UPPGIFT 3413 335\n#UPPGIFT 3414 556\n"))
	g.Expect(out).To(HaveSuffix("#BLANKETTSLUT\n#FIL_SLUT\n"))
}

func TestRunExchangesOnlyAndPDF(t *testing.T) {
	g := NewWithT(t)
	clearEnv(t)

	path := writeStatement(t)
	code, out, _ := runCLI("-exchanges-only", path)
	g.Expect(code).To(Equal(0))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	g.Expect(lines).To(HaveLen(4))
	g.Expect(lines[1]).To(HavePrefix("2023-01-01 10:00:00;EXCHANGE;Current;EOS;100;"))

	pdf := filepath.Join(t.TempDir(), "report.pdf")
	code, _, _ = runCLI("-pdf", pdf, path)
	g.Expect(code).To(Equal(0))
	data, err := os.ReadFile(pdf)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(string(data)).To(HavePrefix("%PDF-"))
}

func TestRunExitCodes(t *testing.T) {
	g := NewWithT(t)
	clearEnv(t)

	code, _, stderr := runCLI()
	g.Expect(code).To(Equal(2))
	g.Expect(stderr).To(ContainSubstring("Usage: cryptotax"))

	code, _, stderr = runCLI(filepath.Join(t.TempDir(), "missing.csv"))
	g.Expect(code).To(Equal(1))
	g.Expect(stderr).To(ContainSubstring("cryptotax failed"))
}

const statement2022 = `Type,Started Date,Completed Date,Description,Amount,Fee,Currency,Original Amount,Original Currency,Settled Amount,Settled Currency,State,Balance
Card Payment,2022-04-02 17:22:50,2022-04-02 17:22:50,Klarna,-123.45678901,0.00000000,DOGE,-321.23456789,SEK,321.23456789,SEK,Completed,955.27221659
Exchange,2022-03-01 16:21:49,2022-03-01 16:21:49,Exchanged to EOS,-900.90603463,-20.36495977,DOGE,-900.90603463,DOGE,,,Completed,1078.7290056
Exchange,2022-03-01 16:21:49,2022-03-01 16:21:49,Exchanged from DOGE,50,0,EOS,50,EOS,,,Completed,50
Exchange,2021-12-31 17:54:48,2021-12-31 17:54:48,Exchanged to DOGE,-5000.45,-80.15,SEK,-5000.45,SEK,,,Completed,700.27
Exchange,2021-12-31 17:54:48,2021-12-31 17:54:48,Exchanged from SEK,2000,0,DOGE,2000,DOGE,,,Completed,2000
Exchange,2021-11-11 18:03:13,2021-11-11 18:03:13,Exchanged to DOGE DOGE Vault,-20,0,SEK,-20,SEK,,,Completed,5781.05
Exchange,2021-11-11 18:03:13,2021-11-11 18:03:13,Exchanged from SEK,5,0,DOGE,5,DOGE,,,Completed,5
Exchange,2022-05-01 10:00:00,2022-05-01 10:00:00,Exchanged to SEK,-100,-1,DOGE,-100,DOGE,,,Completed,854.27221659
Exchange,2022-05-01 10:00:00,2022-05-01 10:00:00,Exchanged from DOGE,95.5,0,SEK,95.5,SEK,,,Completed,795.77
`

func write2022Statement(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statement-2022.csv")
	if err := os.WriteFile(path, []byte(statement2022), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun2022Summary(t *testing.T) {
	g := NewWithT(t)
	clearEnv(t)

	code, out, _ := runCLI("-sum", "-holdings", "-year", "2022", write2022Statement(t))
	g.Expect(code).To(Equal(0))
	// the DOGE to EOS swap has no fiat value and stays unresolved
	g.Expect(out).To(ContainSubstring("DOGE;3;-1145.73;416.73;-2910.49;-153.45;1\n"))
	g.Expect(out).To(ContainSubstring("  DOGE Savings: quantity=5 cost=20\n"))
}

func TestRunPrintTrades(t *testing.T) {
	g := NewWithT(t)
	clearEnv(t)

	code, out, _ := runCLI("-print-trades", write2022Statement(t))
	g.Expect(code).To(Equal(0))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	g.Expect(lines).To(HaveLen(7))
	g.Expect(lines[1]).To(Equal("2021-11-11 18:03:13;EXCHANGE;BUY;Savings;DOGE;5;SEK;20"))
	g.Expect(lines[3]).To(Equal("2022-03-01 16:21:49;EXCHANGE;SELL;Current;DOGE;921.2709944;EOS;50"))
	g.Expect(lines[4]).To(Equal("2022-03-01 16:21:49;EXCHANGE;BUY;Current;EOS;50;DOGE;921.2709944"))
	g.Expect(lines[5]).To(Equal("2022-04-02 17:22:50;CARD_PAYMENT;SELL;Current;DOGE;123.45678901;SEK;321.23456789"))
}
