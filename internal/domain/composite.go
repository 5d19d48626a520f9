package domain

import "time"

// CompositeScore is one fused scoring row for a (symbol, timeframe) pair.
// Weights are snapshotted at compute time; later profile edits never alter
// historical rows.
type CompositeScore struct {
	Symbol        string            `json:"symbol" db:"symbol"`
	Timeframe     Timeframe         `json:"timeframe" db:"timeframe"`
	Timestamp     time.Time         `json:"ts" db:"ts"`
	LayerScores   map[Layer]float64 `json:"layer_scores" db:"layer_scores"`
	Weights       map[Layer]float64 `json:"weights" db:"weights"`
	Composite     float64           `json:"composite" db:"composite"`
	Strength      Strength          `json:"strength" db:"strength"`
	AlignedLayers []Layer           `json:"aligned_layers" db:"aligned_layers"`
	StaleLayers   []Layer           `json:"stale_layers,omitempty" db:"stale_layers"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// AlignmentCount is the number of aligned layers.
func (c CompositeScore) AlignmentCount() int { return len(c.AlignedLayers) }

// CompositeCursor is the persisted leading edge of the composite stream per
// (symbol, timeframe). The alert engine only reacts to rows with a strictly
// newer trigger instant, so edge detection survives restarts and ignores
// backfill writes landing behind the cursor.
type CompositeCursor struct {
	Symbol      string    `json:"symbol" db:"symbol"`
	Timeframe   Timeframe `json:"timeframe" db:"timeframe"`
	TriggeredAt time.Time `json:"triggered_at" db:"triggered_at"`
	Composite   float64   `json:"composite" db:"composite"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
