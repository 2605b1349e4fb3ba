// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "github.com/prometheus/client_golang/prometheus"

// Metrics records credential lifecycle events. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ResetRequests     *prometheus.CounterVec
	ResetConfirms     *prometheus.CounterVec
	PasswordChanges   *prometheus.CounterVec
	RateLimitRejected *prometheus.CounterVec
	SweepDeleted      *prometheus.CounterVec
}

// NewMetrics creates and registers the credential lifecycle metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ResetRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credkeeper_reset_requests_total",
				Help: "Total password reset requests by outcome",
			},
			[]string{"outcome"},
		),
		ResetConfirms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credkeeper_reset_confirms_total",
				Help: "Total password reset confirmations by outcome",
			},
			[]string{"outcome"},
		),
		PasswordChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credkeeper_password_changes_total",
				Help: "Total password changes by outcome",
			},
			[]string{"outcome"},
		),
		RateLimitRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credkeeper_rate_limit_rejections_total",
				Help: "Total requests rejected by rate limiting by operation",
			},
			[]string{"operation"},
		),
		SweepDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credkeeper_sweep_deleted_total",
				Help: "Total rows deleted by the housekeeping sweep by table",
			},
			[]string{"table"},
		),
	}

	reg.MustRegister(m.ResetRequests, m.ResetConfirms, m.PasswordChanges, m.RateLimitRejected, m.SweepDeleted)
	return m
}

func (m *Metrics) resetRequest(outcome string) {
	if m != nil {
		m.ResetRequests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) resetConfirm(outcome string) {
	if m != nil {
		m.ResetConfirms.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) passwordChange(outcome string) {
	if m != nil {
		m.PasswordChanges.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) rateLimited(operation string) {
	if m != nil {
		m.RateLimitRejected.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) swept(table string, n int64) {
	if m != nil && n > 0 {
		m.SweepDeleted.WithLabelValues(table).Add(float64(n))
	}
}
