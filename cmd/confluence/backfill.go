package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/ingest"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Backfill candles and recompute layer scores over a range",
		Long: `Fetches historical candles for the range, then replays each producer's
backfill over it. Both passes upsert on natural keys, so re-running a
range never duplicates rows.`,
		RunE: runBackfill,
	}
	cmd.Flags().String("symbol", "BTC/USDT", "Symbol to backfill")
	cmd.Flags().String("timeframe", "1d", "Timeframe for candles and scoped layers")
	cmd.Flags().String("from", "", "Range start (YYYY-MM-DD), required")
	cmd.Flags().String("to", "", "Range end (YYYY-MM-DD), default today")
	cmd.Flags().String("layer", "", "Restrict to one layer (default: all)")
	cmd.Flags().Bool("candles", true, "Fetch candles before scoring")
	return cmd
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	symbol, _ := cmd.Flags().GetString("symbol")
	tfRaw, _ := cmd.Flags().GetString("timeframe")
	tf, err := domain.ParseTimeframe(tfRaw)
	if err != nil {
		return err
	}

	from, to, err := parseRange(cmd)
	if err != nil {
		return err
	}

	onlyLayer, _ := cmd.Flags().GetString("layer")
	if onlyLayer != "" && !domain.ValidLayer(domain.Layer(onlyLayer)) {
		return fmt.Errorf("unknown layer %q", onlyLayer)
	}

	manager, err := openManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer manager.Close()
	repos := manager.Repository()

	if fetchCandles, _ := cmd.Flags().GetBool("candles"); fetchCandles && onlyLayer == "" {
		client := ingest.NewClient(cfg.Ingest.RequestTimeout, cfg.Ingest.RatePerSecond, nil, 0)
		candleIngestor := ingest.NewCandleIngestor(client, repos, cfg.Ingest.BinanceBaseURL,
			map[string][]domain.Timeframe{symbol: {tf}})
		rows, err := candleIngestor.Backfill(ctx, symbol, tf, from, to)
		if err != nil {
			return fmt.Errorf("candle backfill failed: %w", err)
		}
		log.Info().Int("rows", rows).Str("symbol", symbol).Msg("Candles backfilled")
	}

	for _, p := range producerFactory(cfg)(repos).All() {
		if onlyLayer != "" && string(p.Layer()) != onlyLayer {
			continue
		}
		layerSymbol := ""
		if p.Scoped() {
			layerSymbol = symbol
		}
		if err := p.Backfill(ctx, layerSymbol, tf, from, to); err != nil {
			return fmt.Errorf("%s backfill failed: %w", p.Layer(), err)
		}
		log.Info().Str("layer", string(p.Layer())).Msg("Layer backfilled")
	}

	log.Info().
		Str("symbol", symbol).
		Time("from", from).
		Time("to", to).
		Msg("Backfill complete")
	return nil
}

func parseRange(cmd *cobra.Command) (from, to time.Time, err error) {
	fromRaw, _ := cmd.Flags().GetString("from")
	if fromRaw == "" {
		return from, to, fmt.Errorf("--from is required")
	}
	from, err = time.Parse("2006-01-02", fromRaw)
	if err != nil {
		return from, to, fmt.Errorf("invalid --from: %w", err)
	}

	toRaw, _ := cmd.Flags().GetString("to")
	if toRaw == "" {
		to = time.Now().UTC().Truncate(24 * time.Hour)
	} else if to, err = time.Parse("2006-01-02", toRaw); err != nil {
		return from, to, fmt.Errorf("invalid --to: %w", err)
	}
	if !to.After(from) {
		return from, to, fmt.Errorf("--to must be after --from")
	}
	return from, to, nil
}
