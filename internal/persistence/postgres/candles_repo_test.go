package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

var candleCols = []string{"symbol", "timeframe", "ts", "open", "high", "low", "close", "volume"}

func TestCandleUpsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandleRepo(db, 5*time.Second)

	ts := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO candles`)).
		WithArgs("BTC/USDT", domain.TF1h, ts, 100.0, 105.0, 99.0, 104.0, 12.5).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), domain.Candle{
		Symbol: "BTC/USDT", Timeframe: domain.TF1h, Timestamp: ts,
		Open: 100, High: 105, Low: 99, Close: 104, Volume: 12.5,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleRangeUnlimited(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandleRepo(db, 5*time.Second)

	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	// A zero limit reaches the driver unchanged; NULLIF disables it.
	mock.ExpectQuery(regexp.QuoteMeta(`LIMIT NULLIF($5, 0)`)).
		WithArgs("BTC/USDT", domain.TF1h, from, to, 0).
		WillReturnRows(sqlmock.NewRows(candleCols).
			AddRow("BTC/USDT", "1h", from, 100.0, 101.0, 99.0, 100.5, 1.0).
			AddRow("BTC/USDT", "1h", from.Add(time.Hour), 100.5, 102.0, 100.0, 101.5, 2.0))

	candles, err := repo.Range(context.Background(), "BTC/USDT", domain.TF1h, persistence.TimeRange{From: from, To: to}, 0)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 101.5, candles[1].Close)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleUpToAscending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandleRepo(db, 5*time.Second)

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY ts ASC`)).
		WithArgs("BTC/USDT", domain.TF1h, at, 2).
		WillReturnRows(sqlmock.NewRows(candleCols).
			AddRow("BTC/USDT", "1h", at.Add(-2*time.Hour), 1.0, 1.0, 1.0, 99.0, 0.0).
			AddRow("BTC/USDT", "1h", at.Add(-time.Hour), 1.0, 1.0, 1.0, 100.0, 0.0))

	candles, err := repo.UpTo(context.Background(), "BTC/USDT", domain.TF1h, at, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].Timestamp.Before(candles[1].Timestamp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleLatestNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCandleRepo(db, 5*time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY ts DESC`)).
		WithArgs("BTC/USDT", domain.TF1h).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Latest(context.Background(), "BTC/USDT", domain.TF1h)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
