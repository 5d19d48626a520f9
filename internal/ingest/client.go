// Package ingest pulls external market data into the store on a schedule.
// Every vendor call goes through a shared client with rate limiting, a
// circuit breaker and an optional Redis response cache.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Ingestor is one external source poller driven by the scheduler.
type Ingestor interface {
	Name() string
	Interval() time.Duration

	// Poll fetches the source once and upserts into the store, returning the
	// number of rows written.
	Poll(ctx context.Context) (int, error)
}

// Client is the shared vendor HTTP client.
type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewClient builds the client. cache may be nil to disable response caching.
func NewClient(timeout time.Duration, ratePerSecond float64, cache *redis.Client, cacheTTL time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ingest",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			},
		}),
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// GetJSON fetches the URL and decodes the JSON body into out, serving from
// the cache when a fresh copy exists.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey(url)).Bytes(); err == nil {
			return json.Unmarshal(cached, out)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	})
	if err != nil {
		return err
	}

	raw := body.([]byte)
	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, cacheKey(url), raw, c.cacheTTL).Err(); err != nil {
			log.Debug().Err(err).Msg("Response cache write failed")
		}
	}
	return json.Unmarshal(raw, out)
}

func cacheKey(url string) string {
	return "ingest:" + url
}
