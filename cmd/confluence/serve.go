package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/astroquant/confluence/internal/alerts"
	"github.com/astroquant/confluence/internal/backtest"
	"github.com/astroquant/confluence/internal/confluence"
	"github.com/astroquant/confluence/internal/cycles"
	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/httpapi"
	"github.com/astroquant/confluence/internal/layers/political"
	"github.com/astroquant/confluence/internal/metrics"
	"github.com/astroquant/confluence/internal/sched"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the scheduler in one process",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	manager, err := openManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer manager.Close()
	repos := manager.Repository()

	if err := political.SeedCalendar(ctx, repos.Political); err != nil {
		log.Warn().Err(err).Msg("Calendar seed failed; scheduled-event scoring degrades until retry")
	}

	reg := metrics.NewRegistry()
	cache := newRedis(cfg)
	factory := producerFactory(cfg)
	registry := factory(repos)
	engine := confluence.NewEngine(repos)
	hub := httpapi.NewHub()

	alertEngine := alerts.NewEngine(repos, watchedPairs(cfg))
	alertEngine.SetMinAlignedLayers(cfg.Alerts.AlignmentMinLayers)
	alertEngine.OnFire = func(a domain.Alert) {
		reg.ObserveAlert(string(a.Kind), string(a.Severity))
		hub.BroadcastAlert(a)
	}

	tracker := cycles.NewTracker(repos, cfg.Symbols[0].Symbol)

	scheduler := sched.New(repos.Leases, reg, cfg.Scheduler.Workers, cfg.Scheduler.DrainTimeout)
	scheduler.Register(sched.BuildJobs(sched.Components{
		Config:      cfg,
		Manager:     manager,
		Producers:   registry,
		Engine:      engine,
		Alerts:      alertEngine,
		Tracker:     tracker,
		Ingestors:   buildIngestors(cfg, repos, cache),
		Metrics:     reg,
		OnComposite: hub.BroadcastComposite,
	})...)

	snapshots := httpapi.NewSnapshotService(repos, cache)
	cycleBT := backtest.NewCycleBacktester(repos)
	signalBT := backtest.NewSignalBacktester(repos, factory)
	handlers := httpapi.NewHandlers(repos, manager, cycleBT, signalBT, snapshots, scheduler.Health)
	server := httpapi.NewServer(cfg.HTTP, handlers, hub, reg)

	schedErr := make(chan error, 1)
	go func() { schedErr <- scheduler.Run(ctx) }()

	if err := server.Run(ctx); err != nil {
		return err
	}
	if err := <-schedErr; err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("Shutdown complete")
	return nil
}
