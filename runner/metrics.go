package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runnerCreated = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "runner_created_total",
		Help: "The total number of runners created",
	}, []string{"runner"})

	runnerRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "runner_running",
		Help: "1 while the runner is between setup and finish",
	}, []string{"runner"})

	runnerStages = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "runner_stage_changes_total",
		Help: "The total number of stage changes, by the stage entered",
	}, []string{"runner", "stage"})

	runnerProcessed = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "runner_processed_total",
		Help: "The total number of work units processed",
	}, []string{"runner"})

	runnerPanics = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "runner_panics_total",
		Help: "The total number of panics recovered while handling",
	}, []string{"runner"})
)
