// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelog wraps a zap.Logger so that a noisy warning -- the
// framing codec's oversize-frame discard, for one -- can be emitted
// without flooding the log when the condition recurs on every call.
package ratelog

import (
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Logger rate-limits Warn calls made through it, dropping whatever
// exceeds the configured rate.
type Logger struct {
	base    *zap.Logger
	limiter *rate.Limiter
}

// New wraps base so that Warn is allowed at most once per interval on
// average, with a burst of 1.
func New(base *zap.Logger, interval rate.Limit) *Logger {
	return &Logger{base: base, limiter: rate.NewLimiter(interval, 1)}
}

// Warn logs msg at warn level if the limiter currently has a token,
// otherwise it is silently dropped.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	if l.limiter.Allow() {
		l.base.Warn(msg, fields...)
	}
}
