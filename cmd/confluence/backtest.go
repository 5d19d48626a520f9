package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/astroquant/confluence/internal/backtest"
	"github.com/astroquant/confluence/internal/config"
	"github.com/astroquant/confluence/internal/db"
	"github.com/astroquant/confluence/internal/domain"
)

func newBacktestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run historical replays against archived data",
	}

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Test drawdown-event periodicity against a uniform null",
		RunE:  runBacktestCycle,
	}
	cycleCmd.Flags().Float64("drawdown", 10, "Significant event drawdown percent")
	cycleCmd.Flags().Int("window", 48, "Drawdown lookback window in hours")
	cycleCmd.Flags().Int("period", 0, "Hypothesis period in days (0 = none)")
	cycleCmd.Flags().Int("tolerance", 2, "Period match tolerance in days")

	signalsCmd := &cobra.Command{
		Use:   "signals",
		Short: "Replay producers and the composite over a range, trading the threshold rule",
		RunE:  runBacktestSignals,
	}
	signalsCmd.Flags().Float64("threshold", 0.5, "Entry/exit composite threshold")

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Grid-search layer weights over repeated signal replays",
		RunE:  runBacktestOptimize,
	}
	optimizeCmd.Flags().Float64("threshold", 0.5, "Entry/exit composite threshold")
	optimizeCmd.Flags().Float64("granularity", 0.1, "Weight grid step")
	optimizeCmd.Flags().Int("top", 5, "Number of top candidates to report")
	optimizeCmd.Flags().String("objective", "sharpe", "Ranking objective (hit_rate|mean_return|sharpe)")

	for _, sub := range []*cobra.Command{cycleCmd, signalsCmd, optimizeCmd} {
		sub.Flags().String("symbol", "BTC/USDT", "Symbol to replay")
		sub.Flags().String("timeframe", "1d", "Replay timeframe")
		sub.Flags().String("from", "", "Range start (YYYY-MM-DD), required")
		sub.Flags().String("to", "", "Range end (YYYY-MM-DD), default today")
	}

	cmd.AddCommand(cycleCmd, signalsCmd, optimizeCmd)
	return cmd
}

func runBacktestCycle(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	from, to, err := parseRange(cmd)
	if err != nil {
		return err
	}

	manager, err := openManager(ctx, cfg)
	if err != nil {
		return err
	}
	defer manager.Close()

	symbol, _ := cmd.Flags().GetString("symbol")
	drawdown, _ := cmd.Flags().GetFloat64("drawdown")
	window, _ := cmd.Flags().GetInt("window")
	period, _ := cmd.Flags().GetInt("period")
	tolerance, _ := cmd.Flags().GetInt("tolerance")

	report, err := backtest.NewCycleBacktester(manager.Repository()).Run(ctx, backtest.CycleParams{
		Symbol:        symbol,
		From:          from,
		To:            to,
		DrawdownPct:   drawdown,
		WindowHours:   window,
		PeriodDays:    period,
		ToleranceDays: tolerance,
	})
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runBacktestSignals(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, manager, params, err := signalSetup(ctx, cmd)
	if err != nil {
		return err
	}
	defer manager.Close()

	report, err := backtest.NewSignalBacktester(manager.Repository(), producerFactory(cfg)).Run(ctx, params)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runBacktestOptimize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, manager, params, err := signalSetup(ctx, cmd)
	if err != nil {
		return err
	}
	defer manager.Close()

	granularity, _ := cmd.Flags().GetFloat64("granularity")
	topK, _ := cmd.Flags().GetInt("top")
	objective, _ := cmd.Flags().GetString("objective")

	report, err := backtest.NewSignalBacktester(manager.Repository(), producerFactory(cfg)).
		Optimize(ctx, backtest.OptimizeParams{
			Signal:      params,
			Granularity: granularity,
			TopK:        topK,
			Objective:   backtest.Objective(objective),
		})
	if err != nil {
		return err
	}
	return printJSON(report)
}

// signalSetup shares the config, database and parameter plumbing of the
// signal-driven subcommands.
func signalSetup(ctx context.Context, cmd *cobra.Command) (*config.Config, *db.Manager, backtest.SignalParams, error) {
	var params backtest.SignalParams

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, params, err
	}
	from, to, err := parseRange(cmd)
	if err != nil {
		return nil, nil, params, err
	}

	tfRaw, _ := cmd.Flags().GetString("timeframe")
	tf, err := domain.ParseTimeframe(tfRaw)
	if err != nil {
		return nil, nil, params, err
	}

	manager, err := openManager(ctx, cfg)
	if err != nil {
		return nil, nil, params, err
	}

	symbol, _ := cmd.Flags().GetString("symbol")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	params = backtest.SignalParams{
		Symbol:    symbol,
		Timeframe: tf,
		From:      from,
		To:        to,
		Threshold: threshold,
	}
	return cfg, manager, params, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
