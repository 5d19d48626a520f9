package domain

import (
	"fmt"
	"time"
)

// AlertKind enumerates the ten alert conditions.
type AlertKind string

const (
	AlertConfluenceThreshold  AlertKind = "confluence_threshold"
	AlertLayerAlignment       AlertKind = "layer_alignment"
	AlertCycleAlignment       AlertKind = "cycle_alignment"
	AlertCelestialEvent       AlertKind = "celestial_event"
	AlertExtremeSentiment     AlertKind = "extreme_sentiment"
	AlertNumerologyDate       AlertKind = "numerology_date"
	AlertPoliticalBlackSwan   AlertKind = "political_black_swan"
	AlertScheduledMacroEvent  AlertKind = "scheduled_macro_event"
	AlertNarrativeShift       AlertKind = "narrative_shift"
	AlertEsotericPolitical    AlertKind = "esoteric_political"
)

// AlertSeverity orders alerts for display and routing.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// severityByKind is the static severity map.
var severityByKind = map[AlertKind]AlertSeverity{
	AlertConfluenceThreshold: SeverityWarning,
	AlertLayerAlignment:      SeverityWarning,
	AlertCycleAlignment:      SeverityWarning,
	AlertCelestialEvent:      SeverityInfo,
	AlertExtremeSentiment:    SeverityWarning,
	AlertNumerologyDate:      SeverityInfo,
	AlertPoliticalBlackSwan:  SeverityCritical,
	AlertScheduledMacroEvent: SeverityWarning,
	AlertNarrativeShift:      SeverityInfo,
	AlertEsotericPolitical:   SeverityWarning,
}

// SeverityFor returns the fixed severity for an alert kind.
func SeverityFor(kind AlertKind) AlertSeverity {
	if sev, ok := severityByKind[kind]; ok {
		return sev
	}
	return SeverityInfo
}

// AlertStatus is the alert lifecycle state. Alerts are created active and only
// ever transition status afterwards.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertDismissed    AlertStatus = "dismissed"
)

// Alert is one emitted alert row.
type Alert struct {
	ID             string                 `json:"id" db:"id"`
	Kind           AlertKind              `json:"kind" db:"kind"`
	Severity       AlertSeverity          `json:"severity" db:"severity"`
	Symbol         string                 `json:"symbol,omitempty" db:"symbol"`
	Title          string                 `json:"title" db:"title"`
	Description    string                 `json:"description" db:"description"`
	TriggerContext map[string]interface{} `json:"trigger_context,omitempty" db:"trigger_context"`
	Status         AlertStatus            `json:"status" db:"status"`
	IdempotencyKey string                 `json:"idempotency_key" db:"idempotency_key"`
	TriggeredAt    time.Time              `json:"triggered_at" db:"triggered_at"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
}

// AlertKey builds the idempotency key (kind, symbol, windowBucket, entityId?).
// windowBucket floors the trigger instant to the firing window of the kind;
// entityID scopes event-proximity kinds to a single event or cycle.
func AlertKey(kind AlertKind, symbol string, bucket time.Time, entityID string) string {
	key := fmt.Sprintf("%s|%s|%s", kind, symbol, bucket.UTC().Format(time.RFC3339))
	if entityID != "" {
		key += "|" + entityID
	}
	return key
}

// WindowFor returns the idempotency window width for an alert kind.
// Threshold-style kinds dedupe hourly; date-driven kinds dedupe daily.
func WindowFor(kind AlertKind) time.Duration {
	switch kind {
	case AlertCycleAlignment, AlertNumerologyDate, AlertEsotericPolitical,
		AlertCelestialEvent, AlertScheduledMacroEvent:
		return 24 * time.Hour
	case AlertNarrativeShift:
		return 4 * time.Hour
	default:
		return time.Hour
	}
}
