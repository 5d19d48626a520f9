package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/astroquant/confluence/internal/alerts"
	"github.com/astroquant/confluence/internal/backtest"
	"github.com/astroquant/confluence/internal/config"
	"github.com/astroquant/confluence/internal/db"
	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/ingest"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/layers/celestial"
	"github.com/astroquant/confluence/internal/layers/macro"
	"github.com/astroquant/confluence/internal/layers/numerology"
	"github.com/astroquant/confluence/internal/layers/onchain"
	"github.com/astroquant/confluence/internal/layers/political"
	"github.com/astroquant/confluence/internal/layers/sentiment"
	"github.com/astroquant/confluence/internal/layers/ta"
	"github.com/astroquant/confluence/internal/persistence"
)

// loadConfig reads the config path flag and loads the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// openManager connects and migrates the database.
func openManager(ctx context.Context, cfg *config.Config) (*db.Manager, error) {
	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := manager.Migrate(ctx); err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return manager, nil
}

// newRedis returns a cache client, or nil when no address is configured.
func newRedis(cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// producerFactory builds the seven-layer producer set over any store view.
// Live wiring and backtest replays share it so both score identically.
func producerFactory(cfg *config.Config) backtest.ProducerFactory {
	return func(repos *persistence.Repository) *layers.Registry {
		return layers.NewRegistry(
			ta.NewProducer(repos, ta.Params{
				ZigZagBars:   cfg.Producers.TA.ZigZagBars,
				FibATRFactor: cfg.Producers.TA.FibATRFactor,
			}),
			onchain.NewProducer(repos),
			celestial.NewProducer(repos, celestial.NewMeanEphemeris()),
			numerology.NewProducer(repos, cfg.Producers.Numerology.WatchedNumbers),
			sentiment.NewProducer(repos),
			political.NewProducer(repos, political.Params{
				RelevanceFloor:    cfg.Producers.Political.RelevanceFloor,
				VelocityThreshold: cfg.Producers.Political.VelocityThreshold,
			}),
			macro.NewProducer(repos),
		)
	}
}

// watchedPairs expands the symbol config into alert engine pairs.
func watchedPairs(cfg *config.Config) []alerts.Pair {
	var pairs []alerts.Pair
	for _, sc := range cfg.Symbols {
		for _, tf := range sc.Timeframes {
			pairs = append(pairs, alerts.Pair{Symbol: sc.Symbol, Timeframe: tf})
		}
	}
	return pairs
}

// symbolNames lists the configured symbols.
func symbolNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		names = append(names, sc.Symbol)
	}
	return names
}

// buildIngestors wires the vendor pollers: candles, fear & greed, macro
// series. On-chain and news feeds need vendor credentials and attach through
// their source interfaces when available.
func buildIngestors(cfg *config.Config, repos *persistence.Repository, cache *redis.Client) []ingest.Ingestor {
	client := ingest.NewClient(cfg.Ingest.RequestTimeout, cfg.Ingest.RatePerSecond, cache, cfg.Ingest.CacheTTL)

	pairTimeframes := make(map[string][]domain.Timeframe, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		pairTimeframes[sc.Symbol] = sc.Timeframes
	}

	ingestors := []ingest.Ingestor{
		ingest.NewCandleIngestor(client, repos, cfg.Ingest.BinanceBaseURL, pairTimeframes),
		ingest.NewSentimentIngestor(client, repos, cfg.Ingest.FearGreedBaseURL, symbolNames(cfg)),
		ingest.NewMacroIngestor(client, repos, cfg.Ingest.FredBaseURL, cfg.Ingest.FredAPIKey),
	}
	log.Info().Int("ingestors", len(ingestors)).Msg("Ingest pipeline assembled")
	return ingestors
}
