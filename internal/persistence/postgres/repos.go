package postgres

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/astroquant/confluence/internal/persistence"
)

// DefaultQueryTimeout bounds each repository call unless the caller's context
// is tighter.
const DefaultQueryTimeout = 10 * time.Second

// NewRepository wires every PostgreSQL repository over one connection pool.
func NewRepository(db *sqlx.DB, timeout time.Duration) *persistence.Repository {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &persistence.Repository{
		Candles:    NewCandleRepo(db, timeout),
		Layers:     NewLayerScoreRepo(db, timeout),
		Celestial:  NewCelestialRepo(db, timeout),
		Numerology: NewNumerologyRepo(db, timeout),
		OnChain:    NewOnChainRepo(db, timeout),
		Sentiment:  NewSentimentRepo(db, timeout),
		Political:  NewPoliticalRepo(db, timeout),
		Macro:      NewMacroRepo(db, timeout),
		Composites: NewCompositeRepo(db, timeout),
		Alerts:     NewAlertRepo(db, timeout),
		Cycles:     NewCycleRepo(db, timeout),
		Weights:    NewWeightRepo(db, timeout),
		Leases:     NewLeaseRepo(db, timeout),
		Backtests:  NewBacktestRepo(db, timeout),
	}
}
