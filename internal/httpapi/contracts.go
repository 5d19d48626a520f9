// Package httpapi exposes the read surface: REST endpoints over the stored
// rows, the weight profile editor, backtest triggers and the live websocket
// stream.
package httpapi

import (
	"strconv"
	"time"

	"github.com/astroquant/confluence/internal/domain"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Score renders a score as a string so clients never lose precision to
// float coercion.
type Score string

// NewScore formats a numeric score for the wire.
func NewScore(v float64) Score {
	return Score(strconv.FormatFloat(v, 'f', -1, 64))
}

// ScoreMap converts a per-layer score map for the wire.
func ScoreMap(m map[domain.Layer]float64) map[string]Score {
	out := make(map[string]Score, len(m))
	for layer, v := range m {
		out[string(layer)] = NewScore(v)
	}
	return out
}

// PricesResponse wraps a candle range query.
type PricesResponse struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Count     int             `json:"count"`
	Data      []domain.Candle `json:"data"`
}

// LayerSignalResponse is the latest row of one layer for one key.
type LayerSignalResponse struct {
	Layer     string                 `json:"layer"`
	Symbol    string                 `json:"symbol,omitempty"`
	Timeframe string                 `json:"timeframe,omitempty"`
	Timestamp time.Time              `json:"ts"`
	Score     Score                  `json:"score"`
	Degraded  bool                   `json:"degraded"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ConfluenceResponse is the latest composite row for a pair.
type ConfluenceResponse struct {
	Symbol         string           `json:"symbol"`
	Timeframe      string           `json:"timeframe"`
	Timestamp      time.Time        `json:"ts"`
	Composite      Score            `json:"composite"`
	Strength       string           `json:"strength"`
	LayerScores    map[string]Score `json:"layer_scores"`
	Weights        map[string]Score `json:"weights"`
	AlignedLayers  []domain.Layer   `json:"aligned_layers"`
	AlignmentCount int              `json:"alignment_count"`
	StaleLayers    []domain.Layer   `json:"stale_layers,omitempty"`
}

// NewConfluenceResponse converts a composite row for the wire.
func NewConfluenceResponse(row *domain.CompositeScore) ConfluenceResponse {
	return ConfluenceResponse{
		Symbol:         row.Symbol,
		Timeframe:      string(row.Timeframe),
		Timestamp:      row.Timestamp.UTC(),
		Composite:      NewScore(row.Composite),
		Strength:       string(row.Strength),
		LayerScores:    ScoreMap(row.LayerScores),
		Weights:        ScoreMap(row.Weights),
		AlignedLayers:  row.AlignedLayers,
		AlignmentCount: row.AlignmentCount(),
		StaleLayers:    row.StaleLayers,
	}
}

// WeightsRequest is the POST body for weight profile updates.
type WeightsRequest struct {
	Name    string                   `json:"name"`
	Weights map[domain.Layer]float64 `json:"weights"`
}

// BacktestAccepted acknowledges an asynchronous backtest run.
type BacktestAccepted struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// CycleStatusResponse is one cycle with its live alignment state.
type CycleStatusResponse struct {
	Cycle         domain.CustomCycle `json:"cycle"`
	HitRate       float64            `json:"hit_rate"`
	IsAlignedNow  bool               `json:"is_aligned_now"`
	DayInCycle    int                `json:"day_in_cycle"`
	DaysToNext    int                `json:"days_to_next"`
	NextAlignment time.Time          `json:"next_alignment"`
}

// HealthResponse reports process and job health.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Database  string      `json:"database"`
	Jobs      interface{} `json:"jobs,omitempty"`
}
