// Command fsmdemo runs a handful of traffic lights on one metronome and
// exposes their metrics over HTTP until it receives SIGINT or SIGTERM.
//
// Besides the variables understood by the config package it reads:
//
//	FSM_DEMO_MACHINES     number of traffic lights (default 3)
//	FSM_DEMO_DEFINITION   path of a YAML definition replacing the built-in one
//	FSM_DEMO_DIAGRAM      print the definition as a Mermaid diagram and exit
package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/amp-labs/amp-fsm/build"
	"github.com/amp-labs/amp-fsm/config"
	"github.com/amp-labs/amp-fsm/daemon"
	"github.com/amp-labs/amp-fsm/fsm"
	"github.com/amp-labs/amp-fsm/logger"
	"github.com/amp-labs/amp-fsm/metronome"
	"github.com/amp-labs/amp-fsm/shutdown"
	"github.com/amp-labs/amp-fsm/telemetry"
	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

const (
	appName            = "fsmdemo"
	builtinDefinition  = "machines/traffic_light.yaml"
	pedestrianInterval = time.Second
	readHeaderTimeout  = 5 * time.Second
)

//go:embed machines/*.yaml
var definitions embed.FS

type demoConfig struct {
	Machines   int    `env:"FSM_DEMO_MACHINES"   envDefault:"3"`
	Definition string `env:"FSM_DEMO_DEFINITION"`
	Diagram    bool   `env:"FSM_DEMO_DIAGRAM"    envDefault:"false"`
}

// intersection is the context of one traffic light.
type intersection struct {
	id         int
	pedestrian *atomic.Bool
}

func main() {
	if err := run(); err != nil {
		slog.Error("fsmdemo failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var demo demoConfig
	if err := env.Parse(&demo); err != nil {
		return fmt.Errorf("failed to parse demo settings: %w", err)
	}

	log := logger.ConfigureLogging(appName, cfg.Logging)

	def, err := loadDefinition(demo.Definition)
	if err != nil {
		return err
	}

	if demo.Diagram {
		fmt.Print(def.Mermaid()) //nolint:forbidigo

		return nil
	}

	ctx := logger.WithSubsystem(context.Background(), appName)

	providers, err := telemetry.Initialize(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}

	if h := providers.LogHandler(); h != nil {
		log = logger.ConfigureLogging(appName, cfg.Logging, logger.WithHandler(h))
	}

	handler := shutdown.New(shutdown.WithLogger(log))
	handler.BeforeShutdown("telemetry", providers.Shutdown)
	ctx = handler.SetupHandler(ctx)

	if err := start(ctx, cfg, demo, def, handler, log); err != nil {
		return errors.Join(err, handler.Run(context.WithoutCancel(ctx)))
	}

	info, _ := build.Read()
	log.Info("fsmdemo running", "build", info, "machines", demo.Machines, "metrics", cfg.MetricsAddr)

	<-handler.Done()

	return handler.Err()
}

// start wires the pool, metronome, machines and metrics server, registering
// a shutdown hook for each as it goes.
func start(
	ctx context.Context,
	cfg *config.Config,
	demo demoConfig,
	def *fsm.Definition,
	handler *shutdown.Handler,
	log *slog.Logger,
) error {
	pool := pond.NewPool(cfg.Scheduler.WorkerCount)
	handler.BeforeShutdown("pool", func(context.Context) error {
		pool.StopAndWait()

		return nil
	})

	startMetricsServer(handler, cfg.MetricsAddr, def, log)

	met, err := newMetronome(cfg.Scheduler, pool, log)
	if err != nil {
		return err
	}

	if err := met.Start(ctx); err != nil {
		return err
	}

	handler.BeforeShutdown("metronome", func(context.Context) error {
		return met.Close()
	})

	intersections := make([]*intersection, 0, demo.Machines)

	for i := range demo.Machines {
		x := &intersection{id: i, pedestrian: atomic.NewBool(false)}
		intersections = append(intersections, x)

		machine, err := newTrafficLight(def, x, met, log)
		if err != nil {
			return err
		}

		if err := machine.Start(ctx); err != nil {
			return err
		}

		handler.BeforeShutdown(fmt.Sprintf("traffic-light-%d", i), func(ctx context.Context) error {
			machine.Stop(ctx)

			return nil
		})
	}

	return startPedestrians(ctx, handler, intersections, log)
}

func loadDefinition(path string) (*fsm.Definition, error) {
	if path != "" {
		return fsm.LoadDefinition(path)
	}

	return fsm.LoadDefinitionFromFS(definitions, builtinDefinition)
}

func newMetronome(cfg config.Scheduler, pool pond.Pool, log *slog.Logger) (*metronome.Metronome, error) {
	opts := []metronome.Option{
		metronome.WithName(appName),
		metronome.WithInterval(cfg.MetronomeInterval),
		metronome.WithLogger(log),
		metronome.WithDaemonOptions(
			daemon.WithInterval(cfg.DaemonInterval),
			daemon.WithPool(pool),
		),
	}

	if cfg.ConcurrentDrive {
		opts = append(opts, metronome.WithPool(pool))
	}

	return metronome.New(opts...)
}

func newTrafficLight(
	def *fsm.Definition,
	x *intersection,
	met *metronome.Metronome,
	log *slog.Logger,
) (*fsm.Machine[*intersection], error) {
	guards := fsm.GuardRegistry[*intersection]{
		"pedestrian-waiting": func(_ context.Context, x *intersection, _ time.Time) bool {
			return x.pedestrian.Load()
		},
	}

	machine, err := fsm.Build(def, x, guards, fsm.WithMetronome(met), fsm.WithLogger(log))
	if err != nil {
		return nil, err
	}

	machine.SetDelegate(fsm.DelegateFuncs[*intersection]{
		OnExitState: func(ctx context.Context, previous fsm.State[*intersection], x *intersection, _ time.Time) {
			current := machine.CurrentState()
			if current == nil || previous == nil {
				return
			}

			// Pedestrians cross on red.
			if current.Name() == "red" {
				x.pedestrian.Store(false)
			}

			logger.From(ctx, log).Info("Light changed",
				"intersection", x.id,
				"from", previous.Name(),
				"to", current.Name())
		},
	})

	return machine, nil
}

// startPedestrians presses the crossing button of a random intersection
// every second.
func startPedestrians(
	ctx context.Context,
	handler *shutdown.Handler,
	intersections []*intersection,
	log *slog.Logger,
) error {
	if len(intersections) == 0 {
		return nil
	}

	pedestrians, err := daemon.New(daemon.StepFunc(func(ctx context.Context) bool {
		x := intersections[rand.IntN(len(intersections))] //nolint:gosec
		if x.pedestrian.CompareAndSwap(false, true) {
			logger.From(ctx, log).Debug("Pedestrian waiting", "intersection", x.id)
		}

		return true
	}),
		daemon.WithName("pedestrians"),
		daemon.WithInterval(pedestrianInterval),
		daemon.WithLogger(log),
	)
	if err != nil {
		return err
	}

	if err := pedestrians.Start(ctx); err != nil {
		return err
	}

	handler.BeforeShutdown("pedestrians", func(context.Context) error {
		pedestrians.StopAndWait()

		return nil
	})

	return nil
}

func startMetricsServer(handler *shutdown.Handler, addr string, def *fsm.Definition, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		info, _ := build.Read()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)
	})
	mux.HandleFunc("/diagram", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(def.Mermaid()))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "error", err)
			handler.Shutdown()
		}
	}()

	handler.BeforeShutdown("metrics-server", server.Shutdown)
}
