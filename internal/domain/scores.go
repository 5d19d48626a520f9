package domain

import "time"

// Candle is one OHLCV bar. At most one row exists per (symbol, timeframe, ts);
// late corrections arrive as upserts on that key.
type Candle struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Timeframe Timeframe `json:"timeframe" db:"timeframe"`
	Timestamp time.Time `json:"ts" db:"ts"`
	Open      float64   `json:"open" db:"open"`
	High      float64   `json:"high" db:"high"`
	Low       float64   `json:"low" db:"low"`
	Close     float64   `json:"close" db:"close"`
	Volume    float64   `json:"volume" db:"volume"`
}

// LayerScore is the uniform view of one producer output consumed by the
// confluence engine. Symbol and Timeframe are empty for global layers.
type LayerScore struct {
	Layer     Layer     `json:"layer" db:"layer"`
	Symbol    string    `json:"symbol,omitempty" db:"symbol"`
	Timeframe Timeframe `json:"timeframe,omitempty" db:"timeframe"`
	Timestamp time.Time `json:"ts" db:"ts"`
	Score     float64   `json:"score" db:"score"`
	Degraded  bool      `json:"degraded" db:"degraded"`
	// Details carries layer-specific indicator values for audit and the API.
	Details map[string]interface{} `json:"details,omitempty" db:"details"`
}

// TAIndicators is the computed indicator set persisted alongside the TA score.
type TAIndicators struct {
	RSI7         float64   `json:"rsi_7"`
	RSI14        float64   `json:"rsi_14"`
	MACD         float64   `json:"macd"`
	MACDSignal   float64   `json:"macd_signal"`
	MACDHist     float64   `json:"macd_histogram"`
	StochK       float64   `json:"stoch_k"`
	StochD       float64   `json:"stoch_d"`
	BBUpper      float64   `json:"bb_upper"`
	BBMiddle     float64   `json:"bb_middle"`
	BBLower      float64   `json:"bb_lower"`
	SMA20        float64   `json:"sma_20"`
	SMA50        float64   `json:"sma_50"`
	SMA200       float64   `json:"sma_200"`
	EMA12        float64   `json:"ema_12"`
	EMA26        float64   `json:"ema_26"`
	ATR14        float64   `json:"atr_14"`
	FibLevels    []float64 `json:"fib_levels,omitempty"`
	GoldenCross  bool      `json:"golden_cross"`
	DeathCross   bool      `json:"death_cross"`
	MACDCrossUp  bool      `json:"macd_cross_up"`
	MACDCrossDn  bool      `json:"macd_cross_down"`
}

// OnChainMetrics is one row of chain-level valuation metrics for a symbol.
// Pointers distinguish "vendor did not report" from zero.
type OnChainMetrics struct {
	Symbol          string    `json:"symbol" db:"symbol"`
	Timestamp       time.Time `json:"ts" db:"ts"`
	ExchangeNetflow *float64  `json:"exchange_netflow,omitempty" db:"exchange_netflow"`
	NUPL            *float64  `json:"nupl,omitempty" db:"nupl"`
	MVRVZ           *float64  `json:"mvrv_z,omitempty" db:"mvrv_z"`
	SOPR            *float64  `json:"sopr,omitempty" db:"sopr"`
}

// SentimentRow is one fear & greed observation plus optional auxiliary sources.
type SentimentRow struct {
	Symbol        string    `json:"symbol" db:"symbol"`
	Timestamp     time.Time `json:"ts" db:"ts"`
	FearGreed     int       `json:"fear_greed" db:"fear_greed"`
	SocialScore   *float64  `json:"social_score,omitempty" db:"social_score"`
	TrendsScore   *float64  `json:"trends_score,omitempty" db:"trends_score"`
	Score         float64   `json:"score" db:"score"`
	Degraded      bool      `json:"degraded" db:"degraded"`
}
