// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

// Package observability exposes Prometheus metrics for account activity.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/latchkey/latchkey/internal/account"
	"github.com/latchkey/latchkey/internal/eventbus"
)

// Authentication results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultLocked  = "locked"
)

// Metrics holds the Latchkey counters on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	AccountEvents   *prometheus.CounterVec
	Authentications *prometheus.CounterVec
	SignIns         *prometheus.CounterVec
}

// NewMetrics creates the counters. Process and Go runtime collectors are
// added when withRuntime is set.
func NewMetrics(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		registry: reg,
		AccountEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "latchkey_account_events_total",
				Help: "Total number of account events published by type",
			},
			[]string{"type"},
		),
		Authentications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "latchkey_authentications_total",
				Help: "Total number of authentication attempts by result",
			},
			[]string{"result"},
		),
		SignIns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "latchkey_sign_ins_total",
				Help: "Total number of sign-ins by resulting state",
			},
			[]string{"state"},
		),
	}
	reg.MustRegister(m.AccountEvents, m.Authentications, m.SignIns)
	return m
}

// Registry returns the registry the counters live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// HandleEvent counts one account event. It never fails.
func (m *Metrics) HandleEvent(_ context.Context, event account.Event) error {
	m.AccountEvents.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case account.EventSuccessfulLogin:
		m.Authentications.WithLabelValues(ResultSuccess).Inc()
	case account.EventFailedLogin:
		m.Authentications.WithLabelValues(ResultFailure).Inc()
	case account.EventAccountLocked:
		m.Authentications.WithLabelValues(ResultLocked).Inc()
	}
	return nil
}

// Subscribe registers the metrics handler for every event on bus.
func (m *Metrics) Subscribe(bus *eventbus.Bus) {
	bus.SubscribeAll("metrics", m.HandleEvent)
}

// RecordSignIn counts a sign-in outcome; it satisfies auth.SignInRecorder.
func (m *Metrics) RecordSignIn(state string) {
	m.SignIns.WithLabelValues(state).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// WriteTextfile writes the registry to path for the node exporter's
// textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return oops.Code("METRICS_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
