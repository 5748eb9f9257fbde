// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>
// SPDX-License-Identifier: EPL-2.0
// See LICENSE for full license text.

// Package logger builds the logrus logger shared by all components.
package logger

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a text logger writing to out at the given level. An unknown
// level falls back to info and is reported once.
func New(level string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		l.SetLevel(logrus.InfoLevel)
		l.WithField("configured", level).Warn("invalid log level, defaulting to info")
		return l
	}
	l.SetLevel(lvl)
	return l
}
