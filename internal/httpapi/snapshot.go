package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

const (
	snapshotTTL        = time.Hour
	snapshotAlertLimit = 10
)

// Snapshot is the read-only aggregate handed to external interpretation
// consumers. The hash keys cached interpretation artifacts: it changes only
// when the underlying state does.
type Snapshot struct {
	Symbol       string                 `json:"symbol"`
	Timeframe    string                 `json:"timeframe"`
	Hash         string                 `json:"snapshot_hash"`
	GeneratedAt  time.Time              `json:"generated_at"`
	Composite    ConfluenceResponse     `json:"composite"`
	RecentAlerts []domain.Alert         `json:"recent_alerts"`
	MacroRegime  string                 `json:"macro_regime"`
	Celestial    *domain.CelestialState `json:"celestial,omitempty"`
	Narrative    *domain.Narrative      `json:"narrative,omitempty"`
}

// SnapshotService assembles interpretation snapshots, cached in redis when a
// cache is configured.
type SnapshotService struct {
	repos *persistence.Repository
	cache *redis.Client
}

// NewSnapshotService creates the snapshot service. cache may be nil.
func NewSnapshotService(repos *persistence.Repository, cache *redis.Client) *SnapshotService {
	return &SnapshotService{repos: repos, cache: cache}
}

// Snapshot builds the aggregate for one pair. The composite row anchors the
// hash; sibling reads are best-effort and degrade to absent fields.
func (s *SnapshotService) Snapshot(ctx context.Context, symbol string, tf domain.Timeframe) (*Snapshot, error) {
	row, err := s.repos.Composites.Latest(ctx, symbol, tf)
	if err != nil {
		return nil, fmt.Errorf("failed to load composite for snapshot: %w", err)
	}

	hash := snapshotHash(row)
	if cached := s.fromCache(ctx, symbol, tf, hash); cached != nil {
		return cached, nil
	}

	snap := &Snapshot{
		Symbol:      symbol,
		Timeframe:   string(tf),
		Hash:        hash,
		GeneratedAt: time.Now().UTC(),
		Composite:   NewConfluenceResponse(row),
	}

	if alerts, err := s.repos.Alerts.ListByStatus(ctx, domain.AlertActive, snapshotAlertLimit); err == nil {
		snap.RecentAlerts = alerts
	}
	if macro, err := s.repos.Macro.LatestScore(ctx); err == nil {
		snap.MacroRegime = string(macro.Regime)
	}
	if celestial, err := s.repos.Celestial.Latest(ctx); err == nil {
		snap.Celestial = celestial
	}
	if political, err := s.repos.Political.LatestScore(ctx); err == nil {
		snap.Narrative = political.Dominant
	}

	s.toCache(ctx, symbol, tf, hash, snap)
	return snap, nil
}

// snapshotHash digests the composite row identity and value, so an unchanged
// snapshot hashes identically across calls.
func snapshotHash(row *domain.CompositeScore) string {
	payload, _ := json.Marshal(struct {
		Symbol    string                   `json:"symbol"`
		Timeframe domain.Timeframe         `json:"timeframe"`
		Timestamp time.Time                `json:"ts"`
		Composite float64                  `json:"composite"`
		Weights   map[domain.Layer]float64 `json:"weights"`
	}{row.Symbol, row.Timeframe, row.Timestamp.UTC(), row.Composite, row.Weights})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func snapshotKey(symbol string, tf domain.Timeframe, hash string) string {
	return fmt.Sprintf("snapshot:%s:%s:%s", symbol, tf, hash)
}

func (s *SnapshotService) fromCache(ctx context.Context, symbol string, tf domain.Timeframe, hash string) *Snapshot {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, snapshotKey(symbol, tf, hash)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("Snapshot cache read failed")
		}
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil
	}
	return &snap
}

func (s *SnapshotService) toCache(ctx context.Context, symbol string, tf domain.Timeframe, hash string, snap *Snapshot) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, snapshotKey(symbol, tf, hash), raw, snapshotTTL).Err(); err != nil {
		log.Warn().Err(err).Msg("Snapshot cache write failed")
	}
}
