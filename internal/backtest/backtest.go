// Package backtest orchestrates a full simulation run: it streams stored
// option-chain snapshots through factor evaluation, optional AI filtering,
// and outcome simulation, then replays the accepted trades against a
// portfolio ledger and aggregates performance statistics.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"vertex/internal/domain"
	"vertex/internal/ips"
	"vertex/internal/metrics"
	"vertex/internal/portfolio"
	"vertex/internal/sentiment"
	"vertex/internal/simulate"
	"vertex/internal/store"
	"vertex/internal/timetravel"
)

// ---------------------------------------------------------------------------
// Collaborator interfaces
// ---------------------------------------------------------------------------

// AIContext is the enriched view handed to the optional AI evaluator for one
// candidate. Everything in it is observable on the candidate's entry date.
type AIContext struct {
	Candidate  *domain.TradeCandidate
	Evaluation ips.Evaluation
	Sentiment  *domain.Sentiment
	History    *timetravel.Stats
	Similar    []domain.TradeMatch
}

// AIEvaluator is the optional LLM-backed second opinion. The engine is fully
// functional without one: pure rule-based mode.
type AIEvaluator interface {
	Evaluate(ctx context.Context, ec *AIContext) (*domain.AIAnnotation, error)
}

// Progress is emitted after each symbol finishes processing.
type Progress struct {
	Status           domain.RunStatus
	CurrentSymbol    string
	ProcessedSymbols int
	TotalSymbols     int
	TradesAnalyzed   int
	SentimentFetched int
	Error            string
}

// Deps are the optional collaborators of an Engine. Any of them may be nil;
// the corresponding feature is then disabled for the run.
type Deps struct {
	Sentiment  sentiment.Source
	TimeTravel *timetravel.Provider
	AI         AIEvaluator
	Results    store.ResultStore
}

// Params configure one run.
type Params struct {
	RunID string // empty generates one
	IPS   *ips.IPS
	Start time.Time
	End   time.Time
	// Symbols restricts the universe; empty resolves every symbol with
	// snapshot data in the window.
	Symbols []string

	StartingCapital float64
	RiskPerTradePct float64

	// AIThreshold is the minimum composite score for the AI filter to keep
	// a trade. Ignored when no AI evaluator is configured.
	AIThreshold float64

	// Seed fixes the probabilistic-fallback random source; zero means
	// time-seeded.
	Seed int64

	OnProgress func(Progress)
}

// Engine drives backtest runs. The snapshot store is required; everything
// else is injected through Deps.
type Engine struct {
	snapshots store.SnapshotStore
	deps      Deps
	log       *slog.Logger
}

// New creates an Engine over the given snapshot store.
func New(snapshots store.SnapshotStore, deps Deps) *Engine {
	return &Engine{
		snapshots: snapshots,
		deps:      deps,
		log:       slog.Default().With("component", "backtest"),
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// Run executes one backtest. On any error after the run record is created,
// the run is marked failed and no partial results are persisted.
func (e *Engine) Run(ctx context.Context, p Params) (*domain.BacktestResults, error) {
	if p.IPS == nil {
		return nil, fmt.Errorf("backtest requires an ips rule set")
	}
	if err := p.IPS.Validate(); err != nil {
		return nil, err
	}
	if !p.End.After(p.Start) {
		return nil, fmt.Errorf("backtest window [%s, %s] is empty",
			p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
	}
	if p.RunID == "" {
		p.RunID = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}

	if e.deps.Results != nil {
		err := e.deps.Results.CreateRun(ctx, &store.Run{
			ID:        p.RunID,
			IPSID:     p.IPS.ID,
			IPSName:   p.IPS.Name,
			Status:    domain.RunPending,
			StartDate: p.Start,
			EndDate:   p.End,
		})
		if err != nil {
			return nil, fmt.Errorf("creating run record: %w", err)
		}
		if err := e.deps.Results.UpdateRunStatus(ctx, p.RunID, domain.RunRunning, 0, 0, ""); err != nil {
			return nil, fmt.Errorf("starting run: %w", err)
		}
	}

	res, err := e.execute(ctx, p)
	if err != nil {
		e.failRun(p.RunID, err)
		return nil, err
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, p Params) (*domain.BacktestResults, error) {
	symbols, err := e.resolveSymbols(ctx, p)
	if err != nil {
		return nil, err
	}

	var rng *rand.Rand
	if p.Seed != 0 {
		rng = rand.New(rand.NewSource(p.Seed))
	}
	sim := simulate.New(e.snapshots, rng)

	e.log.Info("starting run",
		"run", p.RunID,
		"ips", p.IPS.Name,
		"window", p.Start.Format("2006-01-02")+".."+p.End.Format("2006-01-02"),
		"symbols", len(symbols))

	var (
		matches          []domain.TradeMatch
		totalCandidates  int
		sentimentFetched int
	)

	for i, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		symMatches, candidates, sentFetched, err := e.processSymbol(ctx, p, sim, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A broken symbol does not abort the run.
			e.log.Error("symbol failed, skipping", "symbol", symbol, "err", err)
		}
		matches = append(matches, symMatches...)
		totalCandidates += candidates
		sentimentFetched += sentFetched

		if p.OnProgress != nil {
			p.OnProgress(Progress{
				Status:           domain.RunRunning,
				CurrentSymbol:    symbol,
				ProcessedSymbols: i + 1,
				TotalSymbols:     len(symbols),
				TradesAnalyzed:   len(matches),
				SentimentFetched: sentimentFetched,
			})
		}
	}

	// Entry-date order up front: the ledger's stable sort then preserves
	// the index mapping used to copy portfolio fields back.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].EntryDate.Before(matches[j].EntryDate)
	})
	var takenIdx []int
	for i := range matches {
		if matches[i].WouldTakeTrade {
			takenIdx = append(takenIdx, i)
		}
	}
	taken := make([]domain.TradeMatch, len(takenIdx))
	for j, i := range takenIdx {
		taken[j] = matches[i]
	}

	ledger := portfolio.NewLedger(p.StartingCapital, p.RiskPerTradePct)
	summary := ledger.Replay(taken, p.Start, p.End)
	for j, i := range takenIdx {
		matches[i] = taken[j]
	}
	stats := metrics.Compute(taken)

	res := &domain.BacktestResults{
		RunID:           p.RunID,
		TotalCandidates: totalCandidates,
		TotalTrades:     stats.TotalTrades,
		Wins:            stats.Wins,
		Losses:          stats.Losses,
		WinRate:         stats.WinRate,

		AvgPnL:    stats.AvgPnL,
		MedianPnL: stats.MedianPnL,
		AvgROI:    stats.AvgROI,
		MedianROI: stats.MedianROI,

		SharpeRatio:  stats.SharpeRatio,
		SortinoRatio: stats.SortinoRatio,
		MaxDrawdown:  stats.MaxDrawdown,
		ProfitFactor: stats.ProfitFactor,

		StrategyPerformance: stats.StrategyPerformance,
		SymbolPerformance:   stats.SymbolPerformance,

		StartingPortfolio:    summary.StartingValue,
		EndingPortfolio:      summary.EndingValue,
		TotalReturn:          summary.TotalReturn,
		CAGR:                 summary.CAGR,
		PortfolioMaxDrawdown: summary.MaxDrawdown,
		EquityCurve:          summary.EquityCurve,

		Trades: matches,
	}

	passed := 0
	for i := range matches {
		if matches[i].PassedIPS {
			passed++
		}
	}

	if e.deps.Results != nil {
		if err := e.deps.Results.InsertTradeMatches(ctx, p.RunID, matches); err != nil {
			return nil, fmt.Errorf("persisting trade matches: %w", err)
		}
		if err := e.deps.Results.InsertResults(ctx, res); err != nil {
			return nil, fmt.Errorf("persisting results: %w", err)
		}
		if err := e.deps.Results.UpdateRunStatus(ctx, p.RunID, domain.RunCompleted, len(matches), passed, ""); err != nil {
			return nil, fmt.Errorf("completing run: %w", err)
		}
	}

	e.log.Info("run completed",
		"run", p.RunID,
		"candidates", totalCandidates,
		"matches", len(matches),
		"taken", len(taken),
		"winRate", fmt.Sprintf("%.1f", stats.WinRate))
	return res, nil
}

// processSymbol evaluates every contract snapshot of one symbol, returning
// the simulated matches that passed the rule set.
func (e *Engine) processSymbol(ctx context.Context, p Params, sim *simulate.Simulator, symbol string) (matches []domain.TradeMatch, candidates, sentFetched int, err error) {
	snaps, err := e.snapshots.ReadSnapshots(ctx, symbol, p.Start, p.End, p.IPS.MinDTE, p.IPS.MaxDTE)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("reading snapshots for %s: %w", symbol, err)
	}
	if len(snaps) == 0 {
		return nil, 0, 0, nil
	}

	byDate := groupByDate(snaps)
	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	factors := p.IPS.EnabledFactors()
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return matches, candidates, sentFetched, err
		}

		var sent *domain.Sentiment
		if e.deps.Sentiment != nil {
			var serr error
			sent, serr = e.deps.Sentiment.SymbolSentiment(ctx, symbol, date)
			if serr != nil {
				e.log.Warn("sentiment unavailable", "symbol", symbol,
					"date", date.Format("2006-01-02"), "err", serr)
			} else if sent != nil {
				sentFetched++
			}
		}

		for _, snap := range byDate[date] {
			cand := domain.TradeCandidate{
				Snapshot:    snap,
				Strategy:    strategyFor(snap.OptionType),
				SpreadWidth: domain.DefaultSpreadWidth,
			}
			if !strategyAllowed(p.IPS, cand.Strategy) {
				continue
			}
			candidates++

			values := ips.CandidateValues(&cand, sent)
			hist := e.historicalContext(ctx, symbol, date, values)

			ev := ips.Evaluate(factors, values)

			// Every evaluated candidate becomes a record, pass or fail;
			// only the take/skip decision downstream is filtered.
			m := newMatch(p.RunID, &cand, ev, sent)
			if ev.Passed {
				e.applyAI(ctx, p, &cand, ev, sent, hist, &m)
			}
			sim.Simulate(ctx, &m, p.IPS.Exit)
			matches = append(matches, m)
		}
	}
	return matches, candidates, sentFetched, nil
}

// historicalContext queries the time-travel provider and folds the visible
// history into the factor inputs. The provider enforces the strict
// before-entry cutoff.
func (e *Engine) historicalContext(ctx context.Context, symbol string, date time.Time, values map[string]float64) *timetravel.Stats {
	if e.deps.TimeTravel == nil {
		return nil
	}
	hist, err := e.deps.TimeTravel.HistoricalPerformanceBefore(ctx, symbol, date)
	if err != nil {
		e.log.Warn("historical context unavailable", "symbol", symbol, "err", err)
		return nil
	}
	if hist.Trades > 0 {
		values["hist_trades"] = float64(hist.Trades)
		values["hist_win_rate"] = hist.WinRate
		values["hist_avg_roi"] = hist.AvgROI
	}
	return hist
}

// applyAI consults the optional AI evaluator and sets the take/skip
// decision. Evaluator errors are recovered locally: the trade falls back to
// the rule-based decision.
func (e *Engine) applyAI(ctx context.Context, p Params, cand *domain.TradeCandidate, ev ips.Evaluation, sent *domain.Sentiment, hist *timetravel.Stats, m *domain.TradeMatch) {
	m.WouldTakeTrade = m.PassedIPS
	if e.deps.AI == nil {
		return
	}

	var similar []domain.TradeMatch
	if e.deps.TimeTravel != nil {
		var err error
		similar, err = e.deps.TimeTravel.SimilarTradesBefore(ctx, store.SimilarQuery{
			Strategy: cand.Strategy,
			DeltaMin: 0,
			DeltaMax: 1,
			DTEMin:   0,
			DTEMax:   cand.Snapshot.DTE * 2,
			Before:   cand.Snapshot.SnapshotDate,
		})
		if err != nil {
			e.log.Warn("similar-trade lookup failed", "contract", cand.Snapshot.ContractSymbol, "err", err)
		}
	}

	ann, err := e.deps.AI.Evaluate(ctx, &AIContext{
		Candidate:  cand,
		Evaluation: ev,
		Sentiment:  sent,
		History:    hist,
		Similar:    similar,
	})
	if err != nil {
		e.log.Warn("ai evaluation failed, using rule-based decision",
			"contract", cand.Snapshot.ContractSymbol, "err", err)
		return
	}
	m.AI = ann
	m.WouldTakeTrade = m.PassedIPS && ann.CompositeScore >= p.AIThreshold
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (e *Engine) resolveSymbols(ctx context.Context, p Params) ([]string, error) {
	if len(p.Symbols) > 0 {
		out := make([]string, len(p.Symbols))
		for i, s := range p.Symbols {
			out[i] = strings.ToUpper(s)
		}
		return out, nil
	}
	symbols, err := e.snapshots.ListSymbols(ctx, p.Start, p.End)
	if err != nil {
		return nil, fmt.Errorf("resolving symbol universe: %w", err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no snapshot data in window %s..%s",
			p.Start.Format("2006-01-02"), p.End.Format("2006-01-02"))
	}
	return symbols, nil
}

// failRun marks the run failed. Uses a fresh context so a cancelled run can
// still record its terminal state.
func (e *Engine) failRun(runID string, runErr error) {
	if e.deps.Results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.deps.Results.UpdateRunStatus(ctx, runID, domain.RunFailed, 0, 0, runErr.Error()); err != nil {
		e.log.Error("recording run failure", "run", runID, "err", err)
	}
}

func newMatch(runID string, c *domain.TradeCandidate, ev ips.Evaluation, sent *domain.Sentiment) domain.TradeMatch {
	s := &c.Snapshot
	return domain.TradeMatch{
		RunID:          runID,
		Symbol:         s.Symbol,
		ContractSymbol: s.ContractSymbol,
		Strategy:       c.Strategy,
		EntryDate:      s.SnapshotDate,
		ExpirationDate: s.ExpirationDate,
		Strike:         s.Strike,
		OptionType:     s.OptionType,
		EntryCredit:    c.EntryCredit(),
		SpreadWidth:    c.SpreadWidth,
		DTE:            s.DTE,
		Delta:          s.Greeks.Delta,
		IV:             s.IV,

		IPSScore:       ev.Score,
		PassedIPS:      ev.Passed,
		FactorScores:   ev.Factors,
		FailingFactors: ev.FailingFactors,
		Sentiment:      sent,
	}
}

func strategyFor(t domain.OptionType) string {
	if t == domain.OptionCall {
		return "call-credit-spread"
	}
	return "put-credit-spread"
}

func strategyAllowed(p *ips.IPS, strategy string) bool {
	if len(p.Strategies) == 0 {
		return true
	}
	for _, s := range p.Strategies {
		if s == strategy {
			return true
		}
	}
	return false
}

func groupByDate(snaps []domain.OptionSnapshot) map[time.Time][]domain.OptionSnapshot {
	byDate := make(map[time.Time][]domain.OptionSnapshot)
	for i := range snaps {
		d := snaps[i].SnapshotDate.Truncate(24 * time.Hour)
		byDate[d] = append(byDate[d], snaps[i])
	}
	return byDate
}
