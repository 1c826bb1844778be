package consolidation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	migrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consolidation_migrations_total",
			Help: "VM migrations committed by consolidation, by phase",
		},
		[]string{"phase"},
	)

	switchedOffTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consolidation_pms_switched_off_total",
			Help: "Physical machines powered off by consolidation, by phase",
		},
		[]string{"phase"},
	)

	switchedOnTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consolidation_pms_switched_on_total",
			Help: "Physical machines powered on by consolidation, by phase",
		},
		[]string{"phase"},
	)

	abortedUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consolidation_aborted_units_total",
			Help: "Evacuations or merges abandoned because a VM had no target",
		},
		[]string{"phase"},
	)
)
