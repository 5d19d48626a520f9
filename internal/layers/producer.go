// Package layers defines the common score producer contract and the
// registry the scheduler and backtester iterate.
package layers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
)

// Result is what a producer hands back to the scheduler. Producers never
// propagate errors upward; a persistent failure surfaces as
// {WroteRow: false, Reason: ...}.
type Result struct {
	WroteRow bool   `json:"wrote_row"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// Producer is one of the seven score layers. Produce computes a single
// scoring instant from store contents with ts <= at and upserts one row;
// rerunning over unchanged inputs writes an identical row. Backfill iterates
// Produce across a range at the producer's native cadence.
//
// Scoped producers require symbol (and for TA, timeframe); global producers
// ignore both.
type Producer interface {
	Layer() domain.Layer
	Scoped() bool
	Cadence() time.Duration
	Produce(ctx context.Context, symbol string, tf domain.Timeframe, at time.Time) Result
	Backfill(ctx context.Context, symbol string, tf domain.Timeframe, from, to time.Time) error
}

// StalenessFor returns the freshness window the confluence engine applies to
// a layer's newest row. TA scales with the timeframe; the rest are fixed.
func StalenessFor(layer domain.Layer, tf domain.Timeframe) time.Duration {
	switch layer {
	case domain.LayerTA:
		return 2 * tf.Duration()
	case domain.LayerOnChain, domain.LayerSentiment:
		return 24 * time.Hour
	case domain.LayerCelestial, domain.LayerNumerology:
		return 48 * time.Hour
	case domain.LayerPolitical, domain.LayerMacro:
		return 2 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// retrySchedule is the backoff ladder for transient I/O inside producers.
var retrySchedule = []time.Duration{time.Second, 2 * time.Second, 8 * time.Second}

// WithRetry runs fn up to three times with exponential backoff, observing
// cancellation between attempts. The last error is returned.
func WithRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= len(retrySchedule) {
			return err
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("Transient failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retrySchedule[attempt]):
		}
	}
}

// Registry is the closed producer set in composite order.
type Registry struct {
	producers map[domain.Layer]Producer
}

// NewRegistry indexes the given producers by layer.
func NewRegistry(producers ...Producer) *Registry {
	reg := &Registry{producers: make(map[domain.Layer]Producer, len(producers))}
	for _, p := range producers {
		reg.producers[p.Layer()] = p
	}
	return reg
}

// Get returns the producer for a layer, or nil.
func (r *Registry) Get(layer domain.Layer) Producer {
	return r.producers[layer]
}

// All returns producers in the canonical layer order.
func (r *Registry) All() []Producer {
	out := make([]Producer, 0, len(r.producers))
	for _, layer := range domain.Layers {
		if p, ok := r.producers[layer]; ok {
			out = append(out, p)
		}
	}
	return out
}
