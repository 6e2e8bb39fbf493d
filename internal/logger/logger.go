// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logger holds the process-wide structured logger used to report
// extraction progress and skipped entries.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance.
var Log *Logger

// Logger wraps a zerolog.Logger with key/value helpers.
type Logger struct {
	z zerolog.Logger
}

func init() {
	Log = New(os.Stderr, "info", "console")
}

// Setup configures the global logger to write on stderr.
func Setup(level string, format string) {
	Log = New(os.Stderr, level, format)
}

// New creates a Logger writing to w. Format is either "json" or "console";
// unknown levels fall back to info.
func New(w io.Writer, level string, format string) *Logger {
	var z zerolog.Logger
	if strings.ToLower(format) == "json" {
		z = zerolog.New(w)
	} else {
		z = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}
	z = z.Level(parseLevel(level)).With().Timestamp().Logger()
	return &Logger{z: z}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Info logs at Info level with variadic key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	e := l.z.Info()
	addFields(e, args...)
	e.Msg(msg)
}

// Debug logs at Debug level with variadic key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	e := l.z.Debug()
	addFields(e, args...)
	e.Msg(msg)
}

// Warn logs at Warn level with variadic key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	e := l.z.Warn()
	addFields(e, args...)
	e.Msg(msg)
}

// Error logs at Error level with variadic key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	e := l.z.Error()
	addFields(e, args...)
	e.Msg(msg)
}

// addFields adds key-value pairs to the event; a trailing key without value
// is dropped.
func addFields(e *zerolog.Event, args ...any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		switch v := args[i+1].(type) {
		case error:
			e.AnErr(key, v)
		case fmt.Stringer:
			e.Stringer(key, v)
		default:
			e.Interface(key, v)
		}
	}
}
