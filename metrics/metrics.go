// Package metrics exposes daemon-level Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks currently attached console sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hatchery",
		Name:      "sessions_active",
		Help:      "Console sessions currently attached.",
	})

	// InstallsTotal counts install jobs by outcome ("success", "failure",
	// "cancelled").
	InstallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hatchery",
		Name:      "installs_total",
		Help:      "Install jobs run, by outcome.",
	}, []string{"outcome"})

	// PowerActionsTotal counts power actions by action name.
	PowerActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hatchery",
		Name:      "power_actions_total",
		Help:      "Power actions requested, by action.",
	}, []string{"action"})
)
