// Package alerts derives alert rows from composite state transitions and
// event-proximity conditions, deduplicated by idempotency key.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// DefaultMinAlignedLayers is the layer_alignment firing threshold.
const DefaultMinAlignedLayers = 4

// composite crossing level for confluence_threshold alerts.
const thresholdLevel = 0.5

// Pair is one watched (symbol, timeframe).
type Pair struct {
	Symbol    string
	Timeframe domain.Timeframe
}

// Engine evaluates alert conditions and inserts deduplicated alert rows.
type Engine struct {
	repos            *persistence.Repository
	pairs            []Pair
	minAlignedLayers int

	// OnFire, when set, observes every inserted alert.
	OnFire func(a domain.Alert)
}

// NewEngine creates the alert engine for the watched pairs.
func NewEngine(repos *persistence.Repository, pairs []Pair) *Engine {
	return &Engine{repos: repos, pairs: pairs, minAlignedLayers: DefaultMinAlignedLayers}
}

// SetMinAlignedLayers overrides the layer_alignment firing threshold.
func (e *Engine) SetMinAlignedLayers(n int) {
	if n > 0 {
		e.minAlignedLayers = n
	}
}

// OnComposite reacts to one composite write. Only rows strictly ahead of the
// persisted cursor are considered, so backfill writes landing behind the
// leading edge never fire alerts, and edge detection survives restarts.
func (e *Engine) OnComposite(ctx context.Context, row *domain.CompositeScore) error {
	cur, err := e.repos.Composites.GetCursor(ctx, row.Symbol, row.Timeframe)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("failed to load composite cursor: %w", err)
	}

	prev := 0.0
	if cur != nil {
		if !row.Timestamp.After(cur.TriggeredAt) {
			return nil
		}
		prev = cur.Composite
	}

	if crossedUp(prev, row.Composite) || crossedDown(prev, row.Composite) {
		direction := "above +0.5"
		if crossedDown(prev, row.Composite) {
			direction = "below -0.5"
		}
		e.fire(ctx, domain.Alert{
			Kind:        domain.AlertConfluenceThreshold,
			Symbol:      row.Symbol,
			Title:       fmt.Sprintf("%s composite crossed %s", row.Symbol, direction),
			Description: fmt.Sprintf("Composite moved %.4f -> %.4f on %s %s", prev, row.Composite, row.Symbol, row.Timeframe),
			TriggerContext: map[string]interface{}{
				"previous_composite": prev,
				"composite":          row.Composite,
				"strength":           string(row.Strength),
				"timeframe":          string(row.Timeframe),
			},
			TriggeredAt: row.Timestamp,
		}, row.Timestamp.Truncate(domain.WindowFor(domain.AlertConfluenceThreshold)), "")
	}

	if row.AlignmentCount() >= e.minAlignedLayers {
		aligned := make([]string, 0, len(row.AlignedLayers))
		for _, layer := range row.AlignedLayers {
			aligned = append(aligned, string(layer))
		}
		e.fire(ctx, domain.Alert{
			Kind:        domain.AlertLayerAlignment,
			Symbol:      row.Symbol,
			Title:       fmt.Sprintf("%d layers aligned on %s", row.AlignmentCount(), row.Symbol),
			Description: fmt.Sprintf("Composite %.4f with %d aligned layers on %s %s", row.Composite, row.AlignmentCount(), row.Symbol, row.Timeframe),
			TriggerContext: map[string]interface{}{
				"aligned_layers": aligned,
				"composite":      row.Composite,
				"timeframe":      string(row.Timeframe),
			},
			TriggeredAt: row.Timestamp,
		}, row.Timestamp.Truncate(domain.WindowFor(domain.AlertLayerAlignment)), "")
	}

	return e.repos.Composites.PutCursor(ctx, domain.CompositeCursor{
		Symbol:      row.Symbol,
		Timeframe:   row.Timeframe,
		TriggeredAt: row.Timestamp,
		Composite:   row.Composite,
	})
}

func crossedUp(prev, cur float64) bool {
	return prev < thresholdLevel && cur >= thresholdLevel
}

func crossedDown(prev, cur float64) bool {
	return prev > -thresholdLevel && cur <= -thresholdLevel
}

// fire inserts the alert unless an active one with the same key exists.
func (e *Engine) fire(ctx context.Context, a domain.Alert, bucket time.Time, entityID string) {
	a.ID = uuid.NewString()
	a.Severity = domain.SeverityFor(a.Kind)
	a.Status = domain.AlertActive
	a.IdempotencyKey = domain.AlertKey(a.Kind, a.Symbol, bucket, entityID)

	inserted, err := e.repos.Alerts.InsertIfAbsent(ctx, a)
	if err != nil {
		log.Error().Err(err).Str("kind", string(a.Kind)).Str("key", a.IdempotencyKey).Msg("Alert insert failed")
		return
	}
	if inserted {
		if e.OnFire != nil {
			e.OnFire(a)
		}
		log.Info().
			Str("kind", string(a.Kind)).
			Str("severity", string(a.Severity)).
			Str("symbol", a.Symbol).
			Str("key", a.IdempotencyKey).
			Msg("Alert fired")
	}
}
