// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package pubsub

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel is this package's own verbosity enum, mapped onto
// zerolog's levels at the point logging actually happens.
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelTrace:
		return zerolog.TraceLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Str("component", "pubsub").Logger()

// SetLogLevel sets the package-wide logging verbosity.
func SetLogLevel(level LogLevel) {
	log = log.Level(level.zerolog())
}

// SetLogLevelFromEnvOr sets the log level from the PUBSUB_LOG_LEVEL
// environment variable ("trace", "debug", "info", "warn", "error"), or
// falls back to defaultLevel if unset or unrecognized.
func SetLogLevelFromEnvOr(defaultLevel LogLevel) {
	switch os.Getenv("PUBSUB_LOG_LEVEL") {
	case "trace":
		SetLogLevel(LogLevelTrace)
	case "debug":
		SetLogLevel(LogLevelDebug)
	case "info":
		SetLogLevel(LogLevelInfo)
	case "warn":
		SetLogLevel(LogLevelWarn)
	case "error":
		SetLogLevel(LogLevelError)
	default:
		SetLogLevel(defaultLevel)
	}
}
