package domain

import "time"

// MacroRegime labels the global liquidity environment derived from the macro
// sub-signals.
type MacroRegime string

const (
	RegimeRiskOn      MacroRegime = "risk_on"
	RegimeRiskOff     MacroRegime = "risk_off"
	RegimeEasing      MacroRegime = "easing"
	RegimeTightening  MacroRegime = "tightening"
	RegimeCarryUnwind MacroRegime = "carry_unwind"
	RegimeNeutral     MacroRegime = "neutral"
)

// MacroSeries names the raw series the macro ingestor polls.
type MacroSeries string

const (
	SeriesFedBalanceSheet MacroSeries = "fed_balance_sheet"
	SeriesM2              MacroSeries = "m2"
	Series2s10s           MacroSeries = "spread_2s10s"
	SeriesRealRate        MacroSeries = "real_rate"
	SeriesDXY             MacroSeries = "dxy"
	SeriesWTI             MacroSeries = "wti"
	SeriesUSDJPY          MacroSeries = "usdjpy"
	SeriesVIX             MacroSeries = "vix"
)

// MacroObservation is one raw point of a macro series.
type MacroObservation struct {
	Series    MacroSeries `json:"series" db:"series"`
	Timestamp time.Time   `json:"ts" db:"ts"`
	Value     float64     `json:"value" db:"value"`
}

// MacroScore is one computed macro layer row: five sub-signals, the weighted
// composite, and the derived regime.
type MacroScore struct {
	Timestamp        time.Time   `json:"ts" db:"ts"`
	Liquidity        float64     `json:"liquidity" db:"liquidity"`
	Treasury         float64     `json:"treasury" db:"treasury"`
	Dollar           float64     `json:"dollar" db:"dollar"`
	Oil              float64     `json:"oil" db:"oil"`
	Carry            float64     `json:"carry" db:"carry"`
	Score            float64     `json:"score" db:"score"`
	Regime           MacroRegime `json:"regime" db:"regime"`
	RegimeConfidence float64     `json:"regime_confidence" db:"regime_confidence"`
	Degraded         bool        `json:"degraded" db:"degraded"`
}
