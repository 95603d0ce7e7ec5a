package sentiment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexiconBullish(t *testing.T) {
	agg := newAggregate()
	agg.add("Shares surge after company beats estimates, strong growth ahead")
	s := agg.sentiment()

	assert.Equal(t, "bullish", s.Label)
	assert.InDelta(t, 1.0, s.Score, 1e-9)
	assert.Contains(t, s.TopTopics, "surge")
}

func TestLexiconBearish(t *testing.T) {
	agg := newAggregate()
	agg.add("Stock plunges on earnings miss, analyst downgrade follows")
	s := agg.sentiment()

	assert.Equal(t, "bearish", s.Label)
	assert.InDelta(t, -1.0, s.Score, 1e-9)
}

func TestLexiconMixedIsNeutral(t *testing.T) {
	agg := newAggregate()
	agg.add("Strong quarter but lawsuit looms")
	s := agg.sentiment()

	assert.Equal(t, "neutral", s.Label)
	assert.InDelta(t, 0.0, s.Score, 1e-9)
}

func TestLexiconNoHits(t *testing.T) {
	agg := newAggregate()
	agg.add("Company schedules annual shareholder meeting")
	s := agg.sentiment()

	assert.Equal(t, "neutral", s.Label)
	assert.InDelta(t, 0.0, s.Score, 1e-9)
	assert.Empty(t, s.TopTopics)
}

func TestLexiconStripsPunctuation(t *testing.T) {
	agg := newAggregate()
	agg.add("Upgrade! Rally, record.")
	assert.Equal(t, 3, agg.bullish)
}

// fakeFetcher returns canned articles and records the request window.
type fakeFetcher struct {
	articles []marketdata.News
	err      error
	lastReq  marketdata.GetNewsRequest
}

func (f *fakeFetcher) GetNews(req marketdata.GetNewsRequest) ([]marketdata.News, error) {
	f.lastReq = req
	return f.articles, f.err
}

func TestSymbolSentimentScoresArticles(t *testing.T) {
	f := &fakeFetcher{articles: []marketdata.News{
		{Headline: "SPY rallies to record high", Summary: "strong gains"},
		{Headline: "Analysts upgrade outlook", Summary: ""},
	}}
	src := newNewsSource(f, 0)

	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	s, err := src.SymbolSentiment(context.Background(), "SPY", date)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, "bullish", s.Label)
	assert.Equal(t, 2, s.ArticleCount)

	// The fetch window ends at the evaluation date.
	assert.True(t, f.lastReq.End.Equal(date))
	assert.True(t, f.lastReq.Start.Equal(date.AddDate(0, 0, -DefaultLookbackDays)))
	assert.Equal(t, []string{"SPY"}, f.lastReq.Symbols)
}

func TestSymbolSentimentNoArticles(t *testing.T) {
	src := newNewsSource(&fakeFetcher{}, 2)
	s, err := src.SymbolSentiment(context.Background(), "SPY", time.Now())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSymbolSentimentFetchError(t *testing.T) {
	src := newNewsSource(&fakeFetcher{err: errors.New("rate limited")}, 2)
	_, err := src.SymbolSentiment(context.Background(), "SPY", time.Now())
	assert.Error(t, err)
}

func TestSymbolSentimentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := newNewsSource(&fakeFetcher{}, 2)
	_, err := src.SymbolSentiment(ctx, "SPY", time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
