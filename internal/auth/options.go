// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/holomush/credkeeper/internal/auth"

// serviceOptions holds the ambient collaborators shared by the services.
type serviceOptions struct {
	logger  *slog.Logger
	clock   func() time.Time
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a service.
type Option func(*serviceOptions)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the time source. Defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *serviceOptions) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

func applyOptions(opts []Option) serviceOptions {
	o := serviceOptions{
		logger: slog.Default(),
		clock:  time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
