// Package timetravel exposes historical trade performance to in-flight
// evaluations without leaking future information. Every query is bounded by
// an exclusive as-of date: only trades closed strictly before that date are
// visible.
package timetravel

import (
	"context"
	"fmt"
	"time"

	"vertex/internal/domain"
	"vertex/internal/store"
)

// Stats summarizes the visible slice of past trades for one symbol.
type Stats struct {
	Symbol  string
	AsOf    time.Time
	Trades  int
	Wins    int
	WinRate float64 // percent
	AvgPnL  float64
	AvgROI  float64 // percent of max risk
}

// Provider answers as-of-date queries against stored trade matches. The
// strict before-cutoff lives in the store queries; this layer only
// aggregates and must never relax it.
type Provider struct {
	results store.ResultStore
	limit   int
}

// New creates a Provider reading from the given result store. limit bounds
// how many past trades a single query considers; non-positive means the
// default of 200.
func New(results store.ResultStore, limit int) *Provider {
	if limit <= 0 {
		limit = 200
	}
	return &Provider{results: results, limit: limit}
}

// HistoricalPerformanceBefore aggregates the symbol's trades closed strictly
// before asOf. A symbol with no visible history returns zero-valued stats,
// not an error.
func (p *Provider) HistoricalPerformanceBefore(ctx context.Context, symbol string, asOf time.Time) (*Stats, error) {
	matches, err := p.results.MatchesBefore(ctx, symbol, asOf, p.limit)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s before %s: %w",
			symbol, asOf.Format("2006-01-02"), err)
	}
	s := aggregate(matches)
	s.Symbol = symbol
	s.AsOf = asOf
	return s, nil
}

// SimilarTradesBefore returns past trades resembling the candidate's
// features, closed strictly before the candidate's entry date.
func (p *Provider) SimilarTradesBefore(ctx context.Context, q store.SimilarQuery) ([]domain.TradeMatch, error) {
	if q.Limit <= 0 {
		q.Limit = p.limit
	}
	matches, err := p.results.SimilarMatchesBefore(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying similar trades before %s: %w",
			q.Before.Format("2006-01-02"), err)
	}
	return matches, nil
}

func aggregate(matches []domain.TradeMatch) *Stats {
	s := &Stats{Trades: len(matches)}
	if len(matches) == 0 {
		return s
	}
	var pnl, roi float64
	for i := range matches {
		if matches[i].Outcome == domain.OutcomeWin {
			s.Wins++
		}
		pnl += matches[i].RealizedPnL
		roi += matches[i].RealizedROI
	}
	n := float64(len(matches))
	s.WinRate = float64(s.Wins) / n * 100
	s.AvgPnL = pnl / n
	s.AvgROI = roi / n
	return s
}
