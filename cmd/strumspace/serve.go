package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/strumspace/internal/api"
	"github.com/dreamware/strumspace/internal/chord"
	"github.com/dreamware/strumspace/internal/config"
	"github.com/dreamware/strumspace/internal/coordinator"
	"github.com/dreamware/strumspace/internal/events"
	"github.com/dreamware/strumspace/internal/logging"
	"github.com/dreamware/strumspace/internal/metrics"
	"github.com/dreamware/strumspace/internal/relay"
	"github.com/dreamware/strumspace/internal/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		Long: `Run the orchestrator HTTP and websocket server together with the
health monitor and metrics loops. The interpreter and tracker from the
configuration are registered at startup; more services can register at
runtime through POST /api/service/register.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logging.Sync()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}
}

// loadConfig reads --config and initializes logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, err
	}
	logging.Init(level, cfg.LogFormat, os.Stderr)
	return cfg, nil
}

func loadChords(path string) (*chord.Table, error) {
	if path == "" {
		return chord.Default(), nil
	}
	return chord.LoadFile(path)
}

// app is one assembled orchestrator process.
type app struct {
	cfg     config.Config
	orch    *coordinator.Orchestrator
	monitor *coordinator.HealthMonitor
	server  *api.Server
	bus     *events.Bus
}

func newApp(cfg config.Config) (*app, error) {
	table, err := loadChords(cfg.ChordTable)
	if err != nil {
		return nil, err
	}

	client := service.NewClient(nil)
	bus := events.NewBus(cfg.Events.BufferSize)
	orch := coordinator.New(coordinator.Config{
		InterpreterTimeout: cfg.Requests.InterpreterTimeout.Std(),
		TrackerTimeout:     cfg.Requests.TrackerTimeout.Std(),
		BaseDelay:          cfg.Requests.BaseDelay.Std(),
		Fallback:           cfg.Fallback,
	}, coordinator.Dependencies{
		Client: client,
		Chords: table,
		Bus:    bus,
	})

	for _, svc := range []struct {
		name string
		ep   config.ServiceEndpoint
	}{
		{service.Interpreter, cfg.Services.Interpreter},
		{service.Tracker, cfg.Services.Tracker},
	} {
		if _, err := orch.RegisterService(svc.name, svc.ep.URL, svc.ep.Capabilities); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.name, err)
		}
	}

	monitor := coordinator.NewHealthMonitor(orch.Registry(), client, coordinator.HealthConfig{
		ProbeInterval: cfg.Health.ProbeInterval.Std(),
		ProbeTimeout:  cfg.Health.ProbeTimeout.Std(),
		PulseInterval: cfg.Health.PulseInterval.Std(),
		PulseTimeout:  cfg.Health.PulseTimeout.Std(),
	})
	orch.Watch(monitor)

	registry := metrics.NewRegistry(metrics.NewExporter(orch.Metrics(), orch.Registry().HealthMap))
	server := api.NewServer(orch, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server.SetHealthRefresher(monitor)

	logging.Info("Main", "Loaded %d chords; interpreter %s, tracker %s",
		table.Len(), cfg.Services.Interpreter.URL, cfg.Services.Tracker.URL)

	return &app{cfg: cfg, orch: orch, monitor: monitor, server: server, bus: bus}, nil
}

// run serves until ctx is cancelled or a component fails, then stops the
// rest and closes the bus.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.monitor.Start(ctx)
		return nil
	})
	g.Go(func() error {
		return a.orch.Metrics().Run(ctx, a.cfg.Metrics.RateInterval.Std(), a.cfg.Metrics.ResetInterval.Std())
	})

	if a.cfg.Redis.Enabled() {
		pub, err := relay.NewRedisPublisher(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			// The relay is an optional mirror; serve without it.
			logging.Error("Main", err, "Event relay disabled")
		} else {
			defer pub.Close()
			r := relay.New(a.bus, pub, a.cfg.Redis.Channel)
			g.Go(func() error { return r.Run(ctx) })
		}
	}

	g.Go(func() error {
		return a.server.ListenAndServe(ctx, a.cfg.Listen)
	})

	err := g.Wait()
	a.bus.Close()
	if err != nil {
		logging.Error("Main", err, "strumspace stopped")
		return err
	}
	logging.Info("Main", "strumspace stopped")
	return nil
}
