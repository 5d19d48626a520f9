package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/astroquant/confluence/internal/confluence"
	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/layers"
	"github.com/astroquant/confluence/internal/persistence"
)

// ProducerFactory builds the producer set over a store view. The backtester
// passes the bounded replay view so producers cannot read the future.
type ProducerFactory func(repos *persistence.Repository) *layers.Registry

// SignalParams configures one signal replay.
type SignalParams struct {
	Symbol    string                   `json:"symbol"`
	Timeframe domain.Timeframe         `json:"timeframe"`
	From      time.Time                `json:"from"`
	To        time.Time                `json:"to"`
	Threshold float64                  `json:"threshold"` // default 0.5
	Weights   map[domain.Layer]float64 `json:"weights,omitempty"`
}

func (p SignalParams) withDefaults() SignalParams {
	if p.Threshold <= 0 {
		p.Threshold = 0.5
	}
	if p.Timeframe == "" {
		p.Timeframe = domain.TF1d
	}
	return p
}

// Trade is one simulated round trip.
type Trade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	ReturnPct  float64   `json:"return_pct"`
}

// SignalReport is the signal backtester output.
type SignalReport struct {
	Params         SignalParams `json:"params"`
	Ticks          int          `json:"ticks"`
	Trades         []Trade      `json:"trades"`
	HitRate        float64      `json:"hit_rate"`
	MeanReturnPct  float64      `json:"mean_return_pct"`
	MaxDrawdownPct float64      `json:"max_drawdown_pct"`
	Sharpe         float64      `json:"sharpe"`
}

// walker carries the replay instant the bounded view clamps against.
type walker struct {
	mu sync.RWMutex
	at time.Time
}

func (w *walker) now() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.at
}

func (w *walker) set(at time.Time) {
	w.mu.Lock()
	w.at = at
	w.mu.Unlock()
}

// SignalBacktester replays producers and the engine over a range and
// simulates the threshold trading rule.
type SignalBacktester struct {
	base    *persistence.Repository
	factory ProducerFactory
}

// NewSignalBacktester creates the signal backtester.
func NewSignalBacktester(base *persistence.Repository, factory ProducerFactory) *SignalBacktester {
	return &SignalBacktester{base: base, factory: factory}
}

// Run walks the range at the timeframe cadence, producing layer scores and
// composites exactly as live would, then reports the simulated trade record.
// Entry when composite > +τ, exit when composite < −τ.
func (b *SignalBacktester) Run(ctx context.Context, params SignalParams) (*SignalReport, error) {
	params = params.withDefaults()

	weights := params.Weights
	if weights == nil {
		weights = make(map[domain.Layer]float64, len(domain.DefaultWeights))
		for layer, w := range domain.DefaultWeights {
			weights[layer] = w
		}
	}
	profile := &domain.WeightProfile{Name: "replay", Weights: weights, Active: true}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("replay weights invalid: %w", err)
	}

	w := &walker{at: params.From}
	view := NewBoundedRepository(b.base, w.now, profile)
	registry := b.factory(view)
	engine := confluence.NewEngine(view)

	step := params.Timeframe.Duration()
	report := &SignalReport{Params: params}

	var open *Trade
	var returns []float64
	lastRun := make(map[domain.Layer]time.Time)

	for at := params.From; !at.After(params.To); at = at.Add(step) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w.set(at)
		report.Ticks++

		for _, p := range registry.All() {
			if last, ok := lastRun[p.Layer()]; ok && at.Sub(last) < p.Cadence() {
				continue
			}
			symbol := ""
			if p.Scoped() {
				symbol = params.Symbol
			}
			p.Produce(ctx, symbol, params.Timeframe, at)
			lastRun[p.Layer()] = at
		}

		row, err := engine.ComputeComposite(ctx, params.Symbol, params.Timeframe, at)
		if err != nil {
			return nil, fmt.Errorf("replay composite failed at %s: %w", at, err)
		}

		price, ok := b.priceAt(ctx, view, params, at)
		if !ok {
			continue
		}

		switch {
		case open == nil && row.Composite > params.Threshold:
			open = &Trade{EntryTime: at, EntryPrice: price}
		case open != nil && row.Composite < -params.Threshold:
			closeTrade(open, at, price)
			report.Trades = append(report.Trades, *open)
			returns = append(returns, open.ReturnPct)
			open = nil
		}
	}

	if open != nil {
		if price, ok := b.priceAt(ctx, view, params, params.To); ok {
			closeTrade(open, params.To, price)
			report.Trades = append(report.Trades, *open)
			returns = append(returns, open.ReturnPct)
		}
	}

	fillStats(report, returns)
	log.Info().
		Str("symbol", params.Symbol).
		Int("trades", len(report.Trades)).
		Float64("hit_rate", report.HitRate).
		Float64("mean_return_pct", report.MeanReturnPct).
		Msg("Signal backtest complete")
	return report, nil
}

func (b *SignalBacktester) priceAt(ctx context.Context, view *persistence.Repository, params SignalParams, at time.Time) (float64, bool) {
	candles, err := view.Candles.UpTo(ctx, params.Symbol, params.Timeframe, at, 1)
	if err != nil || len(candles) == 0 {
		return 0, false
	}
	return candles[0].Close, true
}

func closeTrade(t *Trade, at time.Time, price float64) {
	t.ExitTime = at
	t.ExitPrice = price
	t.ReturnPct = (price - t.EntryPrice) / t.EntryPrice * 100
}

func fillStats(report *SignalReport, returns []float64) {
	if len(returns) == 0 {
		return
	}

	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	report.HitRate = float64(wins) / float64(len(returns))
	report.MeanReturnPct = stat.Mean(returns, nil)

	// Max drawdown on the compounded equity curve.
	equity, peak, maxDD := 1.0, 1.0, 0.0
	for _, r := range returns {
		equity *= 1 + r/100
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	report.MaxDrawdownPct = maxDD * 100

	if len(returns) > 1 {
		if sd := stat.StdDev(returns, nil); sd > 0 {
			report.Sharpe = report.MeanReturnPct / sd
		}
	}
}
