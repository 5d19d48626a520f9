package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// fredSeries maps FRED series IDs onto stored macro series.
var fredSeries = map[string]domain.MacroSeries{
	"WALCL":      domain.SeriesFedBalanceSheet,
	"M2SL":       domain.SeriesM2,
	"T10Y2Y":     domain.Series2s10s,
	"DFII10":     domain.SeriesRealRate,
	"DTWEXBGS":   domain.SeriesDXY,
	"DCOILWTICO": domain.SeriesWTI,
	"DEXJPUS":    domain.SeriesUSDJPY,
	"VIXCLS":     domain.SeriesVIX,
}

// MacroIngestor polls FRED for the raw macro series.
type MacroIngestor struct {
	client *Client
	repos  *persistence.Repository
	base   string
	apiKey string
}

// NewMacroIngestor creates the FRED poller. An empty API key turns every poll
// into a logged no-op so the scheduler wiring stays uniform.
func NewMacroIngestor(client *Client, repos *persistence.Repository, baseURL, apiKey string) *MacroIngestor {
	if baseURL == "" {
		baseURL = "https://api.stlouisfed.org"
	}
	return &MacroIngestor{client: client, repos: repos, base: baseURL, apiKey: apiKey}
}

func (i *MacroIngestor) Name() string            { return "macro" }
func (i *MacroIngestor) Interval() time.Duration { return 5 * time.Minute }

type fredResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Poll fetches the trailing observations of every series and upserts them.
func (i *MacroIngestor) Poll(ctx context.Context) (int, error) {
	if i.apiKey == "" {
		log.Debug().Msg("FRED API key unset, macro poll skipped")
		return 0, nil
	}

	total := 0
	for id, series := range fredSeries {
		url := fmt.Sprintf("%s/fred/series/observations?series_id=%s&api_key=%s&file_type=json&sort_order=desc&limit=60",
			i.base, id, i.apiKey)

		var resp fredResponse
		if err := i.client.GetJSON(ctx, url, &resp); err != nil {
			return total, fmt.Errorf("failed to fetch FRED series %s: %w", id, err)
		}

		for _, obs := range resp.Observations {
			// FRED reports missing points as ".".
			if obs.Value == "." {
				continue
			}
			value, err := strconv.ParseFloat(obs.Value, 64)
			if err != nil {
				return total, fmt.Errorf("failed to parse FRED value %q for %s: %w", obs.Value, id, err)
			}
			date, err := time.Parse("2006-01-02", obs.Date)
			if err != nil {
				return total, fmt.Errorf("failed to parse FRED date %q for %s: %w", obs.Date, id, err)
			}
			err = i.repos.Macro.UpsertObservation(ctx, domain.MacroObservation{
				Series:    series,
				Timestamp: date.UTC(),
				Value:     value,
			})
			if err != nil {
				return total, err
			}
			total++
		}
	}
	return total, nil
}
