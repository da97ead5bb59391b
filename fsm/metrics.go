package fsm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	machineTransitions = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_transitions_total",
		Help: "The total number of state changes",
	}, []string{"machine", "from", "to"})

	machineStatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_status_changes_total",
		Help: "The total number of run status changes",
	}, []string{"machine", "status"})

	machinesRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "fsm_machines_running",
		Help: "The number of started machines, paused ones included",
	}, []string{"machine"})

	machineUnknownTargets = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "fsm_unknown_targets_total",
		Help: "The total number of transitions whose target state does not exist",
	}, []string{"machine"})
)
