package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	daemonRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "daemon_running",
		Help: "1 while the daemon loop is alive",
	}, []string{"daemon"})

	daemonSteps = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "daemon_steps_total",
		Help: "The total number of steps invoked",
	}, []string{"daemon"})

	daemonPanics = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "daemon_panics_total",
		Help: "The total number of panics that ended a daemon loop",
	}, []string{"daemon"})
)
