package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// schema is the full logical schema. Time-bucketed tables are declaratively
// partitioned by month on ts; EnsurePartitions creates the child tables.
// Primary keys are exactly the idempotency keys, so every writer can upsert.
const schema = `
CREATE TABLE IF NOT EXISTS candles (
	symbol      TEXT NOT NULL,
	timeframe   TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	open        DOUBLE PRECISION NOT NULL,
	high        DOUBLE PRECISION NOT NULL,
	low         DOUBLE PRECISION NOT NULL,
	close       DOUBLE PRECISION NOT NULL,
	volume      DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, timeframe, ts)
) PARTITION BY RANGE (ts);

CREATE TABLE IF NOT EXISTS layer_scores (
	layer       TEXT NOT NULL,
	symbol      TEXT NOT NULL DEFAULT '',
	timeframe   TEXT NOT NULL DEFAULT '',
	ts          TIMESTAMPTZ NOT NULL,
	score       DOUBLE PRECISION NOT NULL CHECK (score >= -1 AND score <= 1),
	degraded    BOOLEAN NOT NULL DEFAULT FALSE,
	details     JSONB,
	PRIMARY KEY (layer, symbol, timeframe, ts)
) PARTITION BY RANGE (ts);

CREATE TABLE IF NOT EXISTS composite_scores (
	symbol        TEXT NOT NULL,
	timeframe     TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	layer_scores  JSONB NOT NULL,
	weights       JSONB NOT NULL,
	composite     DOUBLE PRECISION NOT NULL CHECK (composite >= -1 AND composite <= 1),
	strength      TEXT NOT NULL,
	aligned_layers TEXT[] NOT NULL DEFAULT '{}',
	stale_layers  TEXT[] NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (symbol, timeframe, ts)
) PARTITION BY RANGE (ts);

CREATE TABLE IF NOT EXISTS composite_cursors (
	symbol       TEXT NOT NULL,
	timeframe    TEXT NOT NULL,
	triggered_at TIMESTAMPTZ NOT NULL,
	composite    DOUBLE PRECISION NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (symbol, timeframe)
);

CREATE TABLE IF NOT EXISTS celestial_state (
	date                   TIMESTAMPTZ PRIMARY KEY,
	lunar_phase_angle      DOUBLE PRECISION NOT NULL,
	lunar_phase_name       TEXT NOT NULL,
	lunar_illumination     DOUBLE PRECISION NOT NULL,
	days_to_next_new_moon  DOUBLE PRECISION NOT NULL,
	days_to_next_full_moon DOUBLE PRECISION NOT NULL,
	is_lunar_eclipse       BOOLEAN NOT NULL DEFAULT FALSE,
	is_solar_eclipse       BOOLEAN NOT NULL DEFAULT FALSE,
	retrogrades            JSONB,
	retrograde_count       INT NOT NULL DEFAULT 0,
	longitudes             JSONB,
	active_aspects         JSONB,
	ingresses              JSONB,
	score                  DOUBLE PRECISION NOT NULL CHECK (score >= -1 AND score <= 1),
	degraded               BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS numerology_days (
	date              TIMESTAMPTZ PRIMARY KEY,
	digit_sum         INT NOT NULL,
	universal_day     INT NOT NULL,
	is_master_number  BOOLEAN NOT NULL DEFAULT FALSE,
	aligned_cycle_ids BIGINT[] NOT NULL DEFAULT '{}',
	score             DOUBLE PRECISION NOT NULL CHECK (score >= -1 AND score <= 1),
	degraded          BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS onchain_metrics (
	symbol           TEXT NOT NULL,
	ts               TIMESTAMPTZ NOT NULL,
	exchange_netflow DOUBLE PRECISION,
	nupl             DOUBLE PRECISION,
	mvrv_z           DOUBLE PRECISION,
	sopr             DOUBLE PRECISION,
	PRIMARY KEY (symbol, ts)
);

CREATE TABLE IF NOT EXISTS sentiment (
	symbol       TEXT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	fear_greed   INT NOT NULL,
	social_score DOUBLE PRECISION,
	trends_score DOUBLE PRECISION,
	score        DOUBLE PRECISION NOT NULL CHECK (score >= -1 AND score <= 1),
	degraded     BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (symbol, ts)
);

CREATE TABLE IF NOT EXISTS political_events (
	id                 BIGSERIAL PRIMARY KEY,
	name               TEXT NOT NULL,
	category           TEXT NOT NULL,
	event_date         TIMESTAMPTZ NOT NULL,
	volatility         TEXT NOT NULL,
	expected_direction DOUBLE PRECISION NOT NULL DEFAULT 0,
	crypto_relevance   DOUBLE PRECISION NOT NULL DEFAULT 0,
	outcome            TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (name, event_date)
);

CREATE TABLE IF NOT EXISTS news_items (
	id               BIGSERIAL,
	ts               TIMESTAMPTZ NOT NULL,
	source           TEXT NOT NULL,
	headline_hash    TEXT NOT NULL,
	headline         TEXT NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	subcategory      TEXT NOT NULL DEFAULT '',
	sentiment        DOUBLE PRECISION NOT NULL DEFAULT 0,
	relevance        DOUBLE PRECISION NOT NULL DEFAULT 0,
	urgency          DOUBLE PRECISION NOT NULL DEFAULT 0,
	mention_velocity DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (ts, source, headline_hash)
) PARTITION BY RANGE (ts);

CREATE TABLE IF NOT EXISTS political_scores (
	ts                 TIMESTAMPTZ PRIMARY KEY,
	calendar_proximity DOUBLE PRECISION NOT NULL,
	news_flow          DOUBLE PRECISION NOT NULL,
	narrative_score    DOUBLE PRECISION NOT NULL,
	score              DOUBLE PRECISION NOT NULL CHECK (score >= -1 AND score <= 1),
	high_vol_zone      BOOLEAN NOT NULL DEFAULT FALSE,
	black_swan         BOOLEAN NOT NULL DEFAULT FALSE,
	dominant_narrative JSONB,
	degraded           BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS macro_observations (
	series TEXT NOT NULL,
	ts     TIMESTAMPTZ NOT NULL,
	value  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (series, ts)
) PARTITION BY RANGE (ts);

CREATE TABLE IF NOT EXISTS macro_scores (
	ts                TIMESTAMPTZ PRIMARY KEY,
	liquidity         DOUBLE PRECISION NOT NULL,
	treasury          DOUBLE PRECISION NOT NULL,
	dollar            DOUBLE PRECISION NOT NULL,
	oil               DOUBLE PRECISION NOT NULL,
	carry             DOUBLE PRECISION NOT NULL,
	score             DOUBLE PRECISION NOT NULL CHECK (score >= -1 AND score <= 1),
	regime            TEXT NOT NULL,
	regime_confidence DOUBLE PRECISION NOT NULL,
	degraded          BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS alerts (
	id              UUID PRIMARY KEY,
	kind            TEXT NOT NULL,
	severity        TEXT NOT NULL,
	symbol          TEXT,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	trigger_context JSONB,
	status          TEXT NOT NULL DEFAULT 'active',
	idempotency_key TEXT NOT NULL,
	triggered_at    TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS alerts_active_key
	ON alerts (idempotency_key) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS alerts_status_triggered
	ON alerts (status, triggered_at DESC);

CREATE TABLE IF NOT EXISTS custom_cycles (
	id              BIGSERIAL PRIMARY KEY,
	name            TEXT NOT NULL,
	period_days     INT NOT NULL,
	anchor_date     TIMESTAMPTZ NOT NULL,
	tolerance_days  INT NOT NULL DEFAULT 0,
	direction       TEXT NOT NULL DEFAULT 'unknown',
	hits            BIGINT NOT NULL DEFAULT 0,
	misses          BIGINT NOT NULL DEFAULT 0,
	last_outcome_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (name, period_days)
);

CREATE TABLE IF NOT EXISTS weight_profiles (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	weights    JSONB NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS job_leases (
	job_name   TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_results (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	report     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// partitioned lists the parent tables needing monthly children.
var partitioned = []string{"candles", "layer_scores", "composite_scores", "news_items", "macro_observations"}

// Migrate applies the schema and creates partitions covering a window around
// now. Safe to run on every boot.
func (m *Manager) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	now := time.Now().UTC()
	if err := m.EnsurePartitions(ctx, now.AddDate(-1, 0, 0), now.AddDate(0, 3, 0)); err != nil {
		return err
	}

	log.Info().Msg("Database schema up to date")
	return nil
}

// EnsurePartitions creates monthly child partitions for every time-bucketed
// table across [from, to]. Backfills over older ranges call this first.
func (m *Manager) EnsurePartitions(ctx context.Context, from, to time.Time) error {
	start := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)

	for month := start; !month.After(end); month = month.AddDate(0, 1, 0) {
		next := month.AddDate(0, 1, 0)
		for _, table := range partitioned {
			ddl := fmt.Sprintf(
				`CREATE TABLE IF NOT EXISTS %s_%s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
				table, month.Format("2006_01"), table,
				month.Format("2006-01-02"), next.Format("2006-01-02"))
			if _, err := m.db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("failed to create partition %s_%s: %w", table, month.Format("2006_01"), err)
			}
		}
	}
	return nil
}
