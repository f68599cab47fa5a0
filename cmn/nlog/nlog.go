// Package nlog is the migration core's structured logger.
/*
 * Copyright (c) 2018-2026 The ShardKit Authors.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
}

// SetOutput redirects all subsequent logging; tests use this to capture output.
func SetOutput(w io.Writer) {
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel adjusts global verbosity ("debug", "info", "warn", "error").
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func Infoln(args ...interface{})  { logger.Info().Msg(sprint(args...)) }
func Infof(f string, a ...interface{}) { logger.Info().Msgf(f, a...) }
func Warnln(args ...interface{})  { logger.Warn().Msg(sprint(args...)) }
func Warnf(f string, a ...interface{})  { logger.Warn().Msgf(f, a...) }
func Errorln(args ...interface{}) { logger.Error().Msg(sprint(args...)) }
func Errorf(f string, a ...interface{}) { logger.Error().Msgf(f, a...) }

func sprint(args ...interface{}) string {
	if len(args) == 1 {
		if s, ok := args[0].(string); ok {
			return s
		}
	}
	return fmt.Sprint(args...)
}
