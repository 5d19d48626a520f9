package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/astroquant/confluence/internal/domain"
	"github.com/astroquant/confluence/internal/persistence"
)

// SentimentIngestor polls the alternative.me Fear & Greed index. The index is
// market-wide; one observation is stored per configured symbol so the
// sentiment producer reads a uniform per-symbol shape.
type SentimentIngestor struct {
	client  *Client
	repos   *persistence.Repository
	base    string
	symbols []string
}

// NewSentimentIngestor creates the Fear & Greed poller.
func NewSentimentIngestor(client *Client, repos *persistence.Repository, baseURL string, symbols []string) *SentimentIngestor {
	return &SentimentIngestor{client: client, repos: repos, base: baseURL, symbols: symbols}
}

func (i *SentimentIngestor) Name() string            { return "feargreed" }
func (i *SentimentIngestor) Interval() time.Duration { return time.Hour }

type fngResponse struct {
	Data []struct {
		Value     string `json:"value"`
		Timestamp string `json:"timestamp"`
	} `json:"data"`
}

// Poll fetches the latest index value and upserts one row per symbol.
func (i *SentimentIngestor) Poll(ctx context.Context) (int, error) {
	var resp fngResponse
	if err := i.client.GetJSON(ctx, i.base+"/fng/?limit=1&format=json", &resp); err != nil {
		return 0, fmt.Errorf("failed to fetch fear & greed index: %w", err)
	}
	if len(resp.Data) == 0 {
		return 0, fmt.Errorf("empty fear & greed response")
	}

	value, err := strconv.Atoi(resp.Data[0].Value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse fear & greed value %q: %w", resp.Data[0].Value, err)
	}
	unix, err := strconv.ParseInt(resp.Data[0].Timestamp, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse fear & greed timestamp %q: %w", resp.Data[0].Timestamp, err)
	}
	ts := time.Unix(unix, 0).UTC()

	rows := 0
	for _, symbol := range i.symbols {
		err := i.repos.Sentiment.Upsert(ctx, domain.SentimentRow{
			Symbol:    symbol,
			Timestamp: ts,
			FearGreed: value,
		})
		if err != nil {
			return rows, err
		}
		rows++
	}
	return rows, nil
}
