// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AppsRunning counts apps with a healthy, routed current version.
	AppsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apphost_apps_running",
		Help: "Number of applications currently running and routed.",
	})

	// LaunchFailures counts initial launches that never produced a healthy
	// version.
	LaunchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apphost_launch_failures_total",
		Help: "Initial app launches that failed before becoming healthy.",
	})

	// ReloadsTotal counts reload attempts by outcome.
	ReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apphost_reloads_total",
		Help: "Reload attempts by outcome.",
	}, []string{"result"})

	// RetirementsTotal counts completed version retirements.
	RetirementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apphost_retirements_total",
		Help: "Superseded versions fully retired (process stopped, directory removed).",
	})
)
