// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons holds the small set of cross-cutting helpers every
// other package in this module depends on: the structured logger.
package commons

import (
	"go.uber.org/zap"
)

// Logger is the structured logging surface used throughout sonju. It
// mirrors the call shape the rest of the codebase expects: printf-style
// helpers for simple messages, and a key-value variant for anything
// worth filtering or aggregating on (session ids, call ids, durations).
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})

	Info(args ...interface{})
	Error(args ...interface{})

	// Warnw and friends take alternating key-value pairs after the message.
	Warnw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Benchmark logs a debug-level timing line; used around connection
	// setup and retrieval calls to make slow paths visible without a
	// full tracing pipeline.
	Benchmark(op string, d interface{})

	// With returns a logger with the given key-values attached to every
	// subsequent line — used to scope a logger to one session.
	With(keysAndValues ...interface{}) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger builds a Logger backed by zap, at the given level
// ("debug", "info", "warn", "error"). Unknown levels fall back to info.
func NewZapLogger(level string) (Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapTimeEncoder

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: z.Sugar()}, nil
}

func (l *zapLogger) Debugf(template string, args ...interface{}) { l.s.Debugf(template, args...) }
func (l *zapLogger) Infof(template string, args ...interface{})  { l.s.Infof(template, args...) }
func (l *zapLogger) Warnf(template string, args ...interface{})  { l.s.Warnf(template, args...) }
func (l *zapLogger) Errorf(template string, args ...interface{}) { l.s.Errorf(template, args...) }
func (l *zapLogger) Fatalf(template string, args ...interface{}) { l.s.Fatalf(template, args...) }

func (l *zapLogger) Info(args ...interface{})  { l.s.Info(args...) }
func (l *zapLogger) Error(args ...interface{}) { l.s.Error(args...) }

func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) Benchmark(op string, d interface{}) {
	l.s.Debugw("benchmark", "op", op, "took", d)
}

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}
