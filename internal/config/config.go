// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

// Package config gathers run settings from flags, the environment and an
// optional .env file, in that order of precedence.
package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	DefaultBaseCurrency = "SEK"
	DefaultCurrency     = "ALL"
	DefaultLogLevel     = "info"
)

// ErrUsage means the command line could not be used; the caller prints
// usage and exits 2.
var ErrUsage = errors.New("usage")

type Config struct {
	BaseCurrency  string
	Currency      string
	Year          int
	Sum           bool
	SRUOrgNum     string
	SRUName       string
	PDFPath       string
	ExchangesOnly bool
	PrintTrades   bool
	Holdings      bool
	LogLevel      string
	EnvFile       string
	Files         []string
}

// FilingYear is the income year the SRU forms are for: the year filter when
// set, otherwise the year before now.
func (c *Config) FilingYear(now time.Time) int {
	if c.Year != 0 {
		return c.Year
	}
	return now.Year() - 1
}

// Usage writes the command synopsis and flag defaults.
func Usage(fs *flag.FlagSet, out io.Writer) {
	fmt.Fprintf(out, "Usage: %s [-base-currency SEK] [-currency ALL|TICKER] [-year YYYY] [-sum] [-sru-org-num NUM] [-pdf FILE] [-exchanges-only|-print-trades] [-v] file1.csv [file2.csv ...]\n", fs.Name())
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// NewFlagSet declares every flag against c. Defaults are left empty so that
// Parse can tell explicit flags from environment values.
func NewFlagSet(name string, c *Config, verbose *bool) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&c.BaseCurrency, "base-currency", "", "fiat currency the statement is priced in (default "+DefaultBaseCurrency+", env CRYPTOTAX_BASE_CURRENCY)")
	fs.StringVar(&c.Currency, "currency", "", "report only this currency, or ALL (env CRYPTOTAX_CURRENCY)")
	fs.IntVar(&c.Year, "year", 0, "report disposals of this year only. 0 = all years (env CRYPTOTAX_YEAR)")
	fs.BoolVar(&c.Sum, "sum", false, "print the per-currency summary instead of the detail rows")
	fs.StringVar(&c.SRUOrgNum, "sru-org-num", "", "print the K4 SRU file for this person/organisation number (env CRYPTOTAX_SRU_ORG_NUM)")
	fs.StringVar(&c.SRUName, "sru-name", "", "taxpayer name for the SRU file (env CRYPTOTAX_SRU_NAME)")
	fs.StringVar(&c.PDFPath, "pdf", "", "also write a PDF report to this path")
	fs.BoolVar(&c.ExchangesOnly, "exchanges-only", false, "print the parsed EXCHANGE rows and stop")
	fs.BoolVar(&c.PrintTrades, "print-trades", false, "print each exchange merged into one row per crypto leg and stop")
	fs.BoolVar(&c.Holdings, "holdings", false, "print remaining holdings after the run")
	fs.BoolVar(verbose, "v", false, "verbose logging (env CRYPTOTAX_LOG_LEVEL)")
	fs.StringVar(&c.EnvFile, "env-file", "", "load settings from this file instead of ./.env")
	return fs
}

// Parse reads args (without the program name). Unset flags fall back to the
// environment, then to built-in defaults.
func Parse(name string, args []string, stderr io.Writer) (*Config, error) {
	c := &Config{}
	var verbose bool
	fs := NewFlagSet(name, c, &verbose)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		Usage(fs, stderr)
		return nil, errors.Wrap(ErrUsage, err.Error())
	}
	c.Files = fs.Args()
	if len(c.Files) == 0 {
		Usage(fs, stderr)
		return nil, errors.Wrap(ErrUsage, "no input files")
	}

	if err := loadEnvFile(c.EnvFile); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["base-currency"] {
		c.BaseCurrency = getEnv("CRYPTOTAX_BASE_CURRENCY", DefaultBaseCurrency)
	}
	if !set["currency"] {
		c.Currency = getEnv("CRYPTOTAX_CURRENCY", DefaultCurrency)
	}
	if !set["year"] {
		y, err := getEnvAsInt("CRYPTOTAX_YEAR", 0)
		if err != nil {
			return nil, err
		}
		c.Year = y
	}
	if !set["sru-org-num"] {
		c.SRUOrgNum = getEnv("CRYPTOTAX_SRU_ORG_NUM", "")
	}
	if !set["sru-name"] {
		c.SRUName = getEnv("CRYPTOTAX_SRU_NAME", "")
	}
	c.LogLevel = getEnv("CRYPTOTAX_LOG_LEVEL", DefaultLogLevel)
	if verbose {
		c.LogLevel = "debug"
	}

	c.BaseCurrency = strings.ToUpper(strings.TrimSpace(c.BaseCurrency))
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.BaseCurrency == "" {
		return nil, errors.Wrap(ErrUsage, "empty base currency")
	}
	if c.Year < 0 {
		return nil, errors.Wrapf(ErrUsage, "invalid year %d", c.Year)
	}
	return c, nil
}

func loadEnvFile(path string) error {
	if path != "" {
		return errors.Wrapf(godotenv.Load(path), "load %s", path)
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "load .env")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid integer value for %s", key)
	}
	return value, nil
}
