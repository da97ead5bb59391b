package metronome

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metronomeTickers = promauto.NewGaugeVec(prometheus.GaugeOpts{ //nolint:gochecknoglobals
		Name: "metronome_tickers",
		Help: "The number of registered tickers",
	}, []string{"metronome"})

	metronomeDrives = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "metronome_drives_total",
		Help: "The total number of drive passes",
	}, []string{"metronome"})

	metronomeDriveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{ //nolint:gochecknoglobals
		Name:    "metronome_drive_duration_seconds",
		Help:    "Duration of a drive pass",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"metronome"})

	metronomeTickerPanics = promauto.NewCounterVec(prometheus.CounterOpts{ //nolint:gochecknoglobals
		Name: "metronome_ticker_panics_total",
		Help: "The total number of ticker panics contained during drive passes",
	}, []string{"metronome"})
)
