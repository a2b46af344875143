/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// RequireCounterValue asserts the value of the counter with the given label values.
func RequireCounterValue(t require.TestingT, vec *prometheus.CounterVec, want float64, labelValues ...string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, want, promtestutil.ToFloat64(vec.WithLabelValues(labelValues...)))
}

// RequireSamplesCountInHistogram asserts the number of observations in the histogram with the given label values.
func RequireSamplesCountInHistogram(t require.TestingT, vec *prometheus.HistogramVec, want int, labelValues ...string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	hist, ok := vec.WithLabelValues(labelValues...).(prometheus.Histogram)
	require.True(t, ok)
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(hist))
	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Equal(t, uint64(want), families[0].GetMetric()[0].GetHistogram().GetSampleCount())
}
