package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/astroquant/confluence/internal/alerts"
	"github.com/astroquant/confluence/internal/confluence"
	"github.com/astroquant/confluence/internal/cycles"
	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers/political"
	"github.com/astroquant/confluence/internal/metrics"
	"github.com/astroquant/confluence/internal/sched"
)

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run only the ingest and scoring scheduler (no API server)",
		Long: `Runs the job scheduler without the HTTP surface. Multiple scheduler
processes may share one database; per-job leases keep each job on a
single runner.`,
		RunE: runScheduler,
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
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

	alertEngine := alerts.NewEngine(repos, watchedPairs(cfg))
	alertEngine.SetMinAlignedLayers(cfg.Alerts.AlignmentMinLayers)
	alertEngine.OnFire = func(a domain.Alert) {
		reg.ObserveAlert(string(a.Kind), string(a.Severity))
	}

	scheduler := sched.New(repos.Leases, reg, cfg.Scheduler.Workers, cfg.Scheduler.DrainTimeout)
	scheduler.Register(sched.BuildJobs(sched.Components{
		Config:    cfg,
		Manager:   manager,
		Producers: producerFactory(cfg)(repos),
		Engine:    confluence.NewEngine(repos),
		Alerts:    alertEngine,
		Tracker:   cycles.NewTracker(repos, cfg.Symbols[0].Symbol),
		Ingestors: buildIngestors(cfg, repos, cache),
		Metrics:   reg,
	})...)

	log.Info().Str("owner", scheduler.OwnerID()).Msg("Scheduler starting")
	return scheduler.Run(ctx)
}
