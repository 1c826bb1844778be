package drs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consolidation_passes_total",
			Help: "Consolidation passes run, by outcome",
		},
		[]string{"outcome"},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consolidation_pass_duration_seconds",
			Help:    "Wall-clock duration of consolidation passes",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	activePMs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consolidation_active_pms",
			Help: "Physical machines not powered off after the last pass",
		},
	)
)
