// Package sentiment derives a per-symbol, per-day news sentiment reading
// used as an optional evaluation factor. Scores come from a keyword lexicon
// over article headlines and summaries, no external model.
package sentiment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"vertex/internal/domain"
)

// Source produces a sentiment reading for one symbol as of one day. A nil
// reading with a nil error means no articles were available; callers treat
// that as "factor missing", not neutral.
type Source interface {
	SymbolSentiment(ctx context.Context, symbol string, date time.Time) (*domain.Sentiment, error)
}

// newsFetcher is the slice of the Alpaca marketdata client we use.
// *marketdata.Client satisfies it.
type newsFetcher interface {
	GetNews(req marketdata.GetNewsRequest) ([]marketdata.News, error)
}

// Compile-time interface checks.
var (
	_ Source      = (*NewsSource)(nil)
	_ newsFetcher = (*marketdata.Client)(nil)
)

// DefaultLookbackDays is how far back from the evaluation date articles are
// collected.
const DefaultLookbackDays = 3

// NewsSource scores news fetched from the Alpaca marketdata API.
type NewsSource struct {
	fetcher      newsFetcher
	lookbackDays int
	log          *slog.Logger
}

// NewNewsSource creates a NewsSource on the given marketdata client.
// Non-positive lookbackDays falls back to the default.
func NewNewsSource(client *marketdata.Client, lookbackDays int) *NewsSource {
	return newNewsSource(client, lookbackDays)
}

func newNewsSource(fetcher newsFetcher, lookbackDays int) *NewsSource {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	return &NewsSource{
		fetcher:      fetcher,
		lookbackDays: lookbackDays,
		log:          slog.Default().With("component", "sentiment"),
	}
}

// SymbolSentiment fetches articles in the lookback window ending at date and
// scores them against the lexicon. The window ends at the evaluation date so
// no later news can influence the reading.
func (s *NewsSource) SymbolSentiment(ctx context.Context, symbol string, date time.Time) (*domain.Sentiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := date.AddDate(0, 0, -s.lookbackDays)
	articles, err := s.fetcher.GetNews(marketdata.GetNewsRequest{
		Symbols:    []string{symbol},
		Start:      start,
		End:        date,
		TotalLimit: 50,
		Sort:       marketdata.SortAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching news for %s: %w", symbol, err)
	}
	if len(articles) == 0 {
		return nil, nil
	}

	agg := newAggregate()
	for i := range articles {
		agg.add(articles[i].Headline + " " + articles[i].Summary)
	}
	reading := agg.sentiment()
	reading.ArticleCount = len(articles)

	s.log.Debug("scored news sentiment",
		"symbol", symbol,
		"date", date.Format("2006-01-02"),
		"articles", reading.ArticleCount,
		"score", reading.Score,
		"label", reading.Label)
	return reading, nil
}
