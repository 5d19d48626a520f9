package ingest

import (
	"context"
	"time"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// OnChainSource is a vendor feed of chain metrics. Implementations own
// authentication and shaping; the ingestor owns scheduling and storage.
type OnChainSource interface {
	FetchMetrics(ctx context.Context, symbol string, at time.Time) (*domain.OnChainMetrics, error)
}

// NewsSource is a classified-news feed: articles already carry sentiment,
// relevance and urgency in [0,1]-style ranges.
type NewsSource interface {
	FetchNews(ctx context.Context, since time.Time) ([]domain.NewsItem, error)
}

// OnChainIngestor polls a chain metrics source per symbol every four hours.
type OnChainIngestor struct {
	source  OnChainSource
	repos   *persistence.Repository
	symbols []string
}

// NewOnChainIngestor creates the chain metrics poller.
func NewOnChainIngestor(source OnChainSource, repos *persistence.Repository, symbols []string) *OnChainIngestor {
	return &OnChainIngestor{source: source, repos: repos, symbols: symbols}
}

func (i *OnChainIngestor) Name() string            { return "onchain" }
func (i *OnChainIngestor) Interval() time.Duration { return 4 * time.Hour }

func (i *OnChainIngestor) Poll(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	rows := 0
	for _, symbol := range i.symbols {
		metrics, err := i.source.FetchMetrics(ctx, symbol, now)
		if err != nil {
			return rows, err
		}
		if metrics == nil {
			continue
		}
		if err := i.repos.OnChain.Upsert(ctx, *metrics); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, nil
}

// NewsIngestor polls a classified news source every fifteen minutes. The
// store deduplicates on (ts, source, headline hash), so overlapping windows
// are safe.
type NewsIngestor struct {
	source NewsSource
	repos  *persistence.Repository
}

// NewNewsIngestor creates the news poller.
func NewNewsIngestor(source NewsSource, repos *persistence.Repository) *NewsIngestor {
	return &NewsIngestor{source: source, repos: repos}
}

func (i *NewsIngestor) Name() string            { return "news" }
func (i *NewsIngestor) Interval() time.Duration { return 15 * time.Minute }

func (i *NewsIngestor) Poll(ctx context.Context) (int, error) {
	items, err := i.source.FetchNews(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		return 0, err
	}
	rows := 0
	for _, item := range items {
		if err := i.repos.Political.InsertNews(ctx, item); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, nil
}
