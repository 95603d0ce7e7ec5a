package gather

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"vertex/internal/domain"
	"vertex/internal/store"
	"vertex/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*ChainGatherer)(nil)

// chainFetcher is the slice of the Alpaca marketdata client used by the
// gatherer. *marketdata.Client satisfies it.
type chainFetcher interface {
	GetOptionChain(underlyingSymbol string, req marketdata.GetOptionChainRequest) (map[string]marketdata.OptionSnapshot, error)
}

var _ chainFetcher = (*marketdata.Client)(nil)

// ChainGatherer captures one option-chain snapshot per symbol per day from
// the Alpaca marketdata API and writes it to the Parquet store. Runs are
// idempotent within a day: a completed day is skipped, a crashed run
// resumes past symbols that already returned empty chains.
type ChainGatherer struct {
	fetcher    chainFetcher
	store      store.SnapshotStore
	symbols    []string
	minDTE     int
	maxDTE     int
	maxWorkers int
	limiter    *util.RateLimiter
	dataDir    string
	now        func() time.Time
	log        *slog.Logger
}

// NewChainGatherer creates a ChainGatherer with the given Alpaca credentials
// and target store. dataDir is the root under which progress files live.
func NewChainGatherer(apiKey, apiSecret, baseURL string, s store.SnapshotStore, dataDir string, symbols []string, minDTE, maxDTE, maxWorkers, rateLimitPerMin int) *ChainGatherer {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}

	return &ChainGatherer{
		fetcher:    marketdata.NewClient(opts),
		store:      s,
		symbols:    symbols,
		minDTE:     minDTE,
		maxDTE:     maxDTE,
		maxWorkers: max(maxWorkers, 1),
		limiter:    util.NewRateLimiterBurst(max(rateLimitPerMin, 1), 5),
		dataDir:    dataDir,
		now:        time.Now,
		log:        slog.Default().With("gatherer", "option-chain"),
	}
}

// Name returns the gatherer identifier.
func (g *ChainGatherer) Name() string { return "option-chain" }

// Run snapshots today's option chain for every configured symbol.
func (g *ChainGatherer) Run(ctx context.Context) error {
	today := g.now().UTC().Truncate(24 * time.Hour)
	if !util.IsTradingDay(today) {
		g.log.Info("not a trading day, skipping", "date", today.Format("2006-01-02"))
		return nil
	}
	dateStr := today.Format("2006-01-02")

	tracker, err := newProgressTracker(filepath.Join(g.dataDir, "options"))
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	if tracker.IsCompleted(dateStr) {
		g.log.Info("already completed", "date", dateStr)
		return nil
	}
	if last := tracker.LastCompleted(); last != "" && last != dateStr {
		// New day; yesterday's empty set is stale.
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	var remaining []string
	for _, sym := range g.symbols {
		if !tracker.IsTriedEmpty(sym) {
			remaining = append(remaining, sym)
		}
	}
	g.log.Info("starting chain gather",
		"date", dateStr,
		"symbols", len(g.symbols),
		"remaining", len(remaining))

	symCh := make(chan string, len(remaining))
	for _, sym := range remaining {
		symCh <- sym
	}
	close(symCh)

	var (
		wg       sync.WaitGroup
		gathered atomic.Int64
		empty    atomic.Int64
		failed   atomic.Int64
		runStart = time.Now()
	)

	workers := min(g.maxWorkers, len(remaining))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}
				snaps, err := g.fetchChain(ctx, sym, today)
				if err != nil {
					failed.Add(1)
					g.log.Error("chain fetch failed", "symbol", sym, "err", err)
					continue
				}
				if len(snaps) == 0 {
					empty.Add(1)
					if err := tracker.MarkEmpty([]string{sym}); err != nil {
						g.log.Error("marking empty failed", "err", err)
					}
					continue
				}
				if err := g.store.WriteSnapshots(ctx, snaps); err != nil {
					failed.Add(1)
					g.log.Error("writing snapshots failed", "symbol", sym, "err", err)
					continue
				}
				gathered.Add(1)
				g.log.Info("symbol done",
					"symbol", sym,
					"contracts", len(snaps),
					"elapsed", time.Since(runStart).Round(time.Second))
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed.Load() > 0 {
		return fmt.Errorf("chain gather finished with %d failed symbols", failed.Load())
	}

	if err := tracker.MarkCompleted(dateStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	g.log.Info("chain gather completed",
		"date", dateStr,
		"gathered", gathered.Load(),
		"empty", empty.Load(),
		"elapsed", time.Since(runStart).Round(time.Second))
	return nil
}

// fetchChain pulls one symbol's chain bounded to the configured DTE window
// and converts it to snapshot records dated today.
func (g *ChainGatherer) fetchChain(ctx context.Context, symbol string, today time.Time) ([]domain.OptionSnapshot, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := marketdata.GetOptionChainRequest{
		ExpirationDateGte: civil.DateOf(today.AddDate(0, 0, g.minDTE)),
	}
	if g.maxDTE > 0 {
		req.ExpirationDateLte = civil.DateOf(today.AddDate(0, 0, g.maxDTE))
	}

	var chain map[string]marketdata.OptionSnapshot
	err := util.Retry(ctx, 3, time.Second, func() error {
		var ferr error
		chain, ferr = g.fetcher.GetOptionChain(symbol, req)
		return ferr
	})
	if err != nil {
		return nil, err
	}

	snaps := make([]domain.OptionSnapshot, 0, len(chain))
	for occ, raw := range chain {
		snap, err := toSnapshot(symbol, occ, today, &raw)
		if err != nil {
			g.log.Warn("skipping contract", "contract", occ, "err", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// toSnapshot converts one Alpaca chain entry into a domain snapshot.
// Contracts without a quote carry no usable pricing and are rejected.
func toSnapshot(symbol, occ string, today time.Time, raw *marketdata.OptionSnapshot) (domain.OptionSnapshot, error) {
	c, err := ParseOCC(occ)
	if err != nil {
		return domain.OptionSnapshot{}, err
	}
	if raw.LatestQuote == nil {
		return domain.OptionSnapshot{}, fmt.Errorf("contract %s has no quote", occ)
	}

	snap := domain.OptionSnapshot{
		Symbol:         symbol,
		ContractSymbol: occ,
		SnapshotDate:   today,
		ExpirationDate: c.Expiration,
		Strike:         c.Strike,
		OptionType:     c.Type,
		Bid:            raw.LatestQuote.BidPrice,
		Ask:            raw.LatestQuote.AskPrice,
		IV:             raw.ImpliedVolatility,
	}
	snap.Mark = (snap.Bid + snap.Ask) / 2
	if raw.LatestTrade != nil && snap.Mark == 0 {
		snap.Mark = raw.LatestTrade.Price
	}
	if raw.Greeks != nil {
		snap.Greeks = domain.Greeks{
			Delta: raw.Greeks.Delta,
			Gamma: raw.Greeks.Gamma,
			Theta: raw.Greeks.Theta,
			Vega:  raw.Greeks.Vega,
			Rho:   raw.Greeks.Rho,
		}
	}
	snap.DTE = snap.ComputeDTE()

	if err := snap.Validate(); err != nil {
		return domain.OptionSnapshot{}, err
	}
	return snap, nil
}
