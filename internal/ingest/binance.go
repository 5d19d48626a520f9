package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// candleBatch is how many klines one poll requests per pair.
const candleBatch = 200

// CandleIngestor polls Binance klines for the configured pairs.
type CandleIngestor struct {
	client *Client
	repos  *persistence.Repository
	base   string
	pairs  map[string][]domain.Timeframe
}

// NewCandleIngestor creates the candle poller. pairs maps symbol to its
// scored timeframes.
func NewCandleIngestor(client *Client, repos *persistence.Repository, baseURL string, pairs map[string][]domain.Timeframe) *CandleIngestor {
	return &CandleIngestor{client: client, repos: repos, base: baseURL, pairs: pairs}
}

func (i *CandleIngestor) Name() string            { return "candles" }
func (i *CandleIngestor) Interval() time.Duration { return time.Minute }

// Poll fetches the trailing kline window for every (pair, timeframe) and
// upserts. Re-polling overlapping windows is harmless; bars repair in place.
func (i *CandleIngestor) Poll(ctx context.Context) (int, error) {
	total := 0
	for symbol, timeframes := range i.pairs {
		for _, tf := range timeframes {
			candles, err := i.fetch(ctx, symbol, tf)
			if err != nil {
				return total, fmt.Errorf("failed to fetch %s %s klines: %w", symbol, tf, err)
			}
			if err := i.repos.Candles.UpsertBatch(ctx, candles); err != nil {
				return total, err
			}
			total += len(candles)
		}
	}
	return total, nil
}

// Backfill walks the range in batch-sized windows, upserting each batch.
// Re-running the same range rewrites identical bars; counts stay stable.
func (i *CandleIngestor) Backfill(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) (int, error) {
	step := tf.Duration() * candleBatch
	total := 0
	for cursor := from; cursor.Before(to); cursor = cursor.Add(step) {
		end := cursor.Add(step)
		if end.After(to) {
			end = to
		}
		url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=%d",
			i.base, strings.ReplaceAll(symbol, "/", ""), tf,
			cursor.UnixMilli(), end.UnixMilli(), candleBatch)

		var rows [][]interface{}
		if err := i.client.GetJSON(ctx, url, &rows); err != nil {
			return total, fmt.Errorf("failed to backfill %s %s klines: %w", symbol, tf, err)
		}
		candles := make([]domain.Candle, 0, len(rows))
		for _, row := range rows {
			candle, err := parseKline(symbol, tf, row)
			if err != nil {
				return total, err
			}
			candles = append(candles, candle)
		}
		if err := i.repos.Candles.UpsertBatch(ctx, candles); err != nil {
			return total, err
		}
		total += len(candles)
	}
	return total, nil
}

func (i *CandleIngestor) fetch(ctx context.Context, symbol string, tf domain.Timeframe) ([]domain.Candle, error) {
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		i.base, strings.ReplaceAll(symbol, "/", ""), tf, candleBatch)

	var rows [][]interface{}
	if err := i.client.GetJSON(ctx, url, &rows); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseKline(symbol, tf, row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseKline decodes one kline array: open time in ms, then OHLCV as strings.
func parseKline(symbol string, tf domain.Timeframe, row []interface{}) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("short kline row of %d fields", len(row))
	}
	openMs, ok := row[0].(float64)
	if !ok {
		return domain.Candle{}, fmt.Errorf("unexpected kline open time %T", row[0])
	}

	vals := make([]float64, 5)
	for n := 0; n < 5; n++ {
		s, ok := row[n+1].(string)
		if !ok {
			return domain.Candle{}, fmt.Errorf("unexpected kline field %T at %d", row[n+1], n+1)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("failed to parse kline field %q: %w", s, err)
		}
		vals[n] = v
	}

	return domain.Candle{
		Symbol:    symbol,
		Timeframe: tf,
		Timestamp: time.UnixMilli(int64(openMs)).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
