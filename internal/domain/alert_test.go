package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlertKey(t *testing.T) {
	bucket := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	key := AlertKey(AlertConfluenceThreshold, "BTC/USDT", bucket, "")
	assert.Equal(t, "confluence_threshold|BTC/USDT|2026-03-14T15:00:00Z", key)

	scoped := AlertKey(AlertCelestialEvent, "", bucket, "retro-mercury")
	assert.Equal(t, "celestial_event||2026-03-14T15:00:00Z|retro-mercury", scoped)
}

func TestAlertKeyStableAcrossZones(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	utc := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	local := utc.In(est)
	assert.Equal(t,
		AlertKey(AlertLayerAlignment, "ETH/USDT", utc, ""),
		AlertKey(AlertLayerAlignment, "ETH/USDT", local, ""))
}

func TestWindowFor(t *testing.T) {
	assert.Equal(t, time.Hour, WindowFor(AlertConfluenceThreshold))
	assert.Equal(t, time.Hour, WindowFor(AlertLayerAlignment))
	assert.Equal(t, time.Hour, WindowFor(AlertExtremeSentiment))
	assert.Equal(t, time.Hour, WindowFor(AlertPoliticalBlackSwan))
	assert.Equal(t, 4*time.Hour, WindowFor(AlertNarrativeShift))
	assert.Equal(t, 24*time.Hour, WindowFor(AlertCycleAlignment))
	assert.Equal(t, 24*time.Hour, WindowFor(AlertNumerologyDate))
	assert.Equal(t, 24*time.Hour, WindowFor(AlertCelestialEvent))
	assert.Equal(t, 24*time.Hour, WindowFor(AlertScheduledMacroEvent))
	assert.Equal(t, 24*time.Hour, WindowFor(AlertEsotericPolitical))
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFor(AlertPoliticalBlackSwan))
	assert.Equal(t, SeverityWarning, SeverityFor(AlertConfluenceThreshold))
	assert.Equal(t, SeverityInfo, SeverityFor(AlertNumerologyDate))
	assert.Equal(t, SeverityInfo, SeverityFor(AlertKind("unheard_of")))
}
