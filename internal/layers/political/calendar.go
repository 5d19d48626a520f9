package political

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// Known 2026 macro calendar dates. Relevance is normalized to [0,1];
// direction stays unknown until an outcome is recorded.

var fomc2026 = [][2]time.Time{
	{d(2026, 1, 28), d(2026, 1, 29)},
	{d(2026, 3, 17), d(2026, 3, 18)},
	{d(2026, 5, 5), d(2026, 5, 6)},
	{d(2026, 6, 16), d(2026, 6, 17)},
	{d(2026, 7, 28), d(2026, 7, 29)},
	{d(2026, 9, 15), d(2026, 9, 16)},
	{d(2026, 10, 27), d(2026, 10, 28)},
	{d(2026, 12, 8), d(2026, 12, 9)},
}

var cpi2026 = []time.Time{
	d(2026, 1, 14), d(2026, 2, 12), d(2026, 3, 11),
	d(2026, 4, 14), d(2026, 5, 13), d(2026, 6, 10),
	d(2026, 7, 14), d(2026, 8, 12), d(2026, 9, 10),
	d(2026, 10, 14), d(2026, 11, 12), d(2026, 12, 10),
}

var jobs2026 = []time.Time{
	d(2026, 1, 2), d(2026, 2, 6), d(2026, 3, 6),
	d(2026, 4, 3), d(2026, 5, 1), d(2026, 6, 5),
	d(2026, 7, 3), d(2026, 8, 7), d(2026, 9, 4),
	d(2026, 10, 2), d(2026, 11, 6), d(2026, 12, 4),
}

var gdp2026 = []time.Time{
	d(2026, 1, 29), d(2026, 4, 29), d(2026, 7, 29), d(2026, 10, 28),
}

var boj2026 = []time.Time{
	d(2026, 1, 24), d(2026, 3, 14), d(2026, 4, 30), d(2026, 6, 18),
	d(2026, 7, 31), d(2026, 9, 17), d(2026, 10, 30), d(2026, 12, 18),
}

var ecb2026 = []time.Time{
	d(2026, 1, 30), d(2026, 3, 12), d(2026, 4, 16), d(2026, 6, 4),
	d(2026, 7, 16), d(2026, 9, 10), d(2026, 10, 29), d(2026, 12, 10),
}

var opec2026 = []time.Time{
	d(2026, 2, 1), d(2026, 4, 3), d(2026, 6, 5),
	d(2026, 8, 7), d(2026, 10, 2), d(2026, 12, 4),
}

func d(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SeedCalendar upserts the recurring macro event set. Safe to run on every
// boot; the (name, date) key makes re-seeding a no-op.
func SeedCalendar(ctx context.Context, repo persistence.PoliticalRepo) error {
	var events []domain.PoliticalEvent

	for _, pair := range fomc2026 {
		events = append(events, domain.PoliticalEvent{
			Name:            fmt.Sprintf("FOMC Meeting (%s)", pair[0].Format("Jan 02 2006")),
			Category:        "monetary_policy",
			EventDate:       pair[1],
			Volatility:      domain.VolHigh,
			CryptoRelevance: 0.8,
		})
	}
	for _, day := range cpi2026 {
		events = append(events, domain.PoliticalEvent{
			Name:            fmt.Sprintf("CPI Release (%s)", day.Format("Jan 02 2006")),
			Category:        "economic_data",
			EventDate:       day,
			Volatility:      domain.VolHigh,
			CryptoRelevance: 0.7,
		})
	}
	for _, day := range jobs2026 {
		events = append(events, domain.PoliticalEvent{
			Name:            fmt.Sprintf("Jobs Report (%s)", day.Format("Jan 02 2006")),
			Category:        "economic_data",
			EventDate:       day,
			Volatility:      domain.VolMedium,
			CryptoRelevance: 0.5,
		})
	}
	for _, day := range gdp2026 {
		events = append(events, domain.PoliticalEvent{
			Name:            fmt.Sprintf("GDP Release (%s)", day.Format("Jan 02 2006")),
			Category:        "economic_data",
			EventDate:       day,
			Volatility:      domain.VolMedium,
			CryptoRelevance: 0.5,
		})
	}
	for _, day := range boj2026 {
		events = append(events, domain.PoliticalEvent{
			Name:            fmt.Sprintf("BOJ Rate Decision (%s)", day.Format("Jan 02 2006")),
			Category:        "monetary_policy",
			EventDate:       day,
			Volatility:      domain.VolHigh,
			CryptoRelevance: 0.6,
		})
	}
	for _, day := range ecb2026 {
		events = append(events, domain.PoliticalEvent{
			Name:            fmt.Sprintf("ECB Rate Decision (%s)", day.Format("Jan 02 2006")),
			Category:        "monetary_policy",
			EventDate:       day,
			Volatility:      domain.VolMedium,
			CryptoRelevance: 0.5,
		})
	}
	for _, day := range opec2026 {
		events = append(events, domain.PoliticalEvent{
			Name:            fmt.Sprintf("OPEC Meeting (%s)", day.Format("Jan 02 2006")),
			Category:        "commodities",
			EventDate:       day,
			Volatility:      domain.VolMedium,
			CryptoRelevance: 0.3,
		})
	}

	for _, e := range events {
		if err := repo.UpsertEvent(ctx, e); err != nil {
			return fmt.Errorf("failed to seed calendar event %q: %w", e.Name, err)
		}
	}
	log.Info().Int("events", len(events)).Msg("Political calendar seeded")
	return nil
}
