/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package service runs the units of the ratekit process (HTTP server, expired windows sweeper)
// and stops them gracefully on OS signals.
package service

import "github.com/prometheus/client_golang/prometheus"

// Unit represents a service unit that can be started and stopped.
type Unit interface {
	// Start begins the unit's operation. It may block for the unit's lifetime.
	// A fatal error is reported through fatalErr; the channel must not be used after Start returns.
	Start(fatalErr chan<- error)

	// Stop halts the unit. It may be called even if Start has failed or was never called.
	Stop(gracefully bool) error
}

// MetricsRegisterer is implemented by units that expose Prometheus metrics.
type MetricsRegisterer interface {
	MustRegisterMetrics(reg prometheus.Registerer)
	UnregisterMetrics(reg prometheus.Registerer)
}

// MetricsRegistererFunc turns a set of collectors into a MetricsRegisterer.
func MetricsRegistererFunc(collectors ...prometheus.Collector) MetricsRegisterer {
	return collectorsRegisterer(collectors)
}

type collectorsRegisterer []prometheus.Collector

func (cs collectorsRegisterer) MustRegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(cs...)
}

func (cs collectorsRegisterer) UnregisterMetrics(reg prometheus.Registerer) {
	for _, c := range cs {
		reg.Unregister(c)
	}
}
