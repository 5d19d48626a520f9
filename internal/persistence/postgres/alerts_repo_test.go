package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

var alertCols = []string{
	"id", "kind", "severity", "symbol", "title", "description",
	"trigger_context", "status", "idempotency_key", "triggered_at", "created_at",
}

func sampleAlert() domain.Alert {
	return domain.Alert{
		ID:             "a1",
		Kind:           domain.AlertConfluenceThreshold,
		Severity:       domain.SeverityWarning,
		Symbol:         "BTC/USDT",
		Title:          "Confluence crossed +0.5",
		TriggerContext: map[string]any{"composite": 0.52},
		Status:         domain.AlertActive,
		IdempotencyKey: "confluence_threshold|BTC/USDT|2026-02-10T09:00:00Z",
		TriggeredAt:    time.Date(2026, 2, 10, 9, 5, 0, 0, time.UTC),
	}
}

func TestAlertInsertIfAbsent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAlertRepo(db, 5*time.Second)
	a := sampleAlert()

	// First write lands.
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO alerts`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	inserted, err := repo.InsertIfAbsent(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, inserted)

	// A live duplicate key suppresses the second.
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO alerts`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = repo.InsertIfAbsent(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertGetDecodesContext(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAlertRepo(db, 5*time.Second)

	at := time.Date(2026, 2, 10, 9, 5, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM alerts WHERE id = $1`)).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(alertCols).AddRow(
			"a1", "confluence_threshold", "warning", "BTC/USDT",
			"Confluence crossed +0.5", "", []byte(`{"composite":0.52}`),
			"active", "confluence_threshold|BTC/USDT|2026-02-10T09:00:00Z", at, at))

	a, err := repo.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertConfluenceThreshold, a.Kind)
	assert.Equal(t, "BTC/USDT", a.Symbol)
	assert.Equal(t, 0.52, a.TriggerContext["composite"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertGetNullSymbol(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAlertRepo(db, 5*time.Second)

	at := time.Date(2026, 2, 10, 9, 5, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM alerts WHERE id = $1`)).
		WithArgs("a2").
		WillReturnRows(sqlmock.NewRows(alertCols).AddRow(
			"a2", "celestial_event", "info", nil,
			"Mercury stations retrograde", "", []byte(`{}`),
			"active", "celestial_event||2026-02-10T00:00:00Z|retro-mercury", at, at))

	a, err := repo.Get(context.Background(), "a2")
	require.NoError(t, err)
	assert.Empty(t, a.Symbol)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertUpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAlertRepo(db, 5*time.Second)

	// Reactivation is rejected before touching the database.
	err := repo.UpdateStatus(context.Background(), "a1", domain.AlertActive)
	require.Error(t, err)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE alerts SET status = $1 WHERE id = $2`)).
		WithArgs(domain.AlertAcknowledged, "a1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateStatus(context.Background(), "a1", domain.AlertAcknowledged))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE alerts SET status = $1 WHERE id = $2`)).
		WithArgs(domain.AlertDismissed, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.UpdateStatus(context.Background(), "missing", domain.AlertDismissed)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
