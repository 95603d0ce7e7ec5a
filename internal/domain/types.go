// Package domain defines the core data types shared across the vertex
// backtesting engine: option-chain snapshots, trade candidates, evaluated
// trade matches, and aggregate backtest results.
package domain

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// OptionType distinguishes calls from puts.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// Outcome is the realized result of a simulated trade.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// RunStatus tracks the lifecycle of a backtest run. Completed and failed are
// terminal; there is no retry transition.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Greeks holds the option sensitivities captured with a snapshot.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

// OptionSnapshot is one historical observation of a single option contract
// on a single day. Snapshots are immutable facts sourced externally.
type OptionSnapshot struct {
	Symbol         string // underlying, e.g. "SPY"
	ContractSymbol string // OCC symbol, e.g. "SPY240621P00450000"
	SnapshotDate   time.Time
	ExpirationDate time.Time
	Strike         float64
	OptionType     OptionType
	Bid            float64
	Ask            float64
	Mark           float64
	Greeks         Greeks
	IV             float64 // implied volatility
	OpenInterest   int64
	Volume         int64
	DTE            int // days to expiration as of SnapshotDate
}

// Validate checks the snapshot at the data-source boundary so downstream
// components can assume well-formed records.
func (s *OptionSnapshot) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("snapshot missing symbol")
	}
	if s.ContractSymbol == "" {
		return fmt.Errorf("snapshot %s missing contract symbol", s.Symbol)
	}
	if s.SnapshotDate.IsZero() || s.ExpirationDate.IsZero() {
		return fmt.Errorf("snapshot %s missing dates", s.ContractSymbol)
	}
	if s.ExpirationDate.Before(s.SnapshotDate) {
		return fmt.Errorf("snapshot %s expires %s before snapshot date %s",
			s.ContractSymbol,
			s.ExpirationDate.Format("2006-01-02"),
			s.SnapshotDate.Format("2006-01-02"))
	}
	if s.Strike <= 0 {
		return fmt.Errorf("snapshot %s has non-positive strike %f", s.ContractSymbol, s.Strike)
	}
	if s.OptionType != OptionCall && s.OptionType != OptionPut {
		return fmt.Errorf("snapshot %s has unknown option type %q", s.ContractSymbol, s.OptionType)
	}
	if s.Bid < 0 || s.Ask < 0 || s.Mark < 0 {
		return fmt.Errorf("snapshot %s has negative prices", s.ContractSymbol)
	}
	return nil
}

// MidMark returns the stored mark, or the bid/ask midpoint when the source
// did not provide one.
func (s *OptionSnapshot) MidMark() float64 {
	if s.Mark > 0 {
		return s.Mark
	}
	if s.Bid > 0 || s.Ask > 0 {
		return (s.Bid + s.Ask) / 2
	}
	return 0
}

// ComputeDTE returns the whole days between the snapshot date and expiration.
func (s *OptionSnapshot) ComputeDTE() int {
	return int(s.ExpirationDate.Sub(s.SnapshotDate).Hours() / 24)
}

// Sentiment is an optional per-symbol, per-day news sentiment reading.
type Sentiment struct {
	Score        float64 // [-1, 1]
	Label        string  // "bullish", "bearish", "neutral"
	ArticleCount int
	TopTopics    []string
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// DefaultSpreadWidth is the fixed credit-spread width assumed by the
// simplified pricing model, in dollars.
const DefaultSpreadWidth = 5.0

// TradeCandidate is the unit of evaluation: one snapshot viewed as the short
// leg of a fixed-width credit spread.
type TradeCandidate struct {
	Snapshot    OptionSnapshot
	Strategy    string // e.g. "put-credit-spread"
	SpreadWidth float64
}

// EntryCredit is the premium collected at entry, per share.
func (c *TradeCandidate) EntryCredit() float64 {
	return c.Snapshot.MidMark()
}

// MaxRisk is the per-share loss if the spread finishes fully in the money.
func (c *TradeCandidate) MaxRisk() float64 {
	return c.SpreadWidth - c.EntryCredit()
}

// FactorScore is the evaluation of one IPS factor against one candidate.
type FactorScore struct {
	Key     string
	Weight  float64
	Value   float64
	Score   float64 // [0, 100]
	Met     bool
	Missing bool // the candidate had no value for this factor
}

// AIAnnotation carries the optional LLM evaluator's verdict for a candidate.
type AIAnnotation struct {
	Recommendation string
	Score          float64
	Confidence     float64
	CompositeScore float64
}

// TradeMatch is the evaluated outcome of one TradeCandidate. It is created
// by factor evaluation, then mutated exactly twice: once by the outcome
// simulator and once by the portfolio replay. After that it is an immutable
// record.
type TradeMatch struct {
	RunID          string
	Symbol         string
	ContractSymbol string
	Strategy       string
	EntryDate      time.Time
	ExpirationDate time.Time
	Strike         float64
	OptionType     OptionType
	EntryCredit    float64
	SpreadWidth    float64
	DTE            int
	Delta          float64
	IV             float64

	// Factor evaluation.
	IPSScore       float64
	PassedIPS      bool
	FactorScores   []FactorScore
	FailingFactors []string

	// Optional annotations. Nil when the corresponding source is absent.
	AI             *AIAnnotation
	Sentiment      *Sentiment
	WouldTakeTrade bool

	// Outcome simulation.
	ExitDate    time.Time
	ExitPrice   float64
	RealizedPnL float64
	RealizedROI float64 // percent of max risk
	DaysHeld    int
	Outcome     Outcome

	// Portfolio replay.
	PortfolioValueBefore float64
	PortfolioValueAfter  float64
	PositionSize         int
	CapitalAllocated     float64
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// EquityPoint is one sample of the simulated portfolio value over time.
type EquityPoint struct {
	Date           time.Time
	PortfolioValue float64
}

// BreakdownStats are the per-strategy / per-symbol performance slices.
type BreakdownStats struct {
	Trades   int
	Wins     int
	WinRate  float64
	AvgROI   float64
	TotalPnL float64
}

// BacktestResults is the aggregate output of one run. Ratio fields are
// pointers so that an undefined statistic (e.g. profit factor with zero
// gross loss) stays distinguishable from zero.
type BacktestResults struct {
	RunID           string
	TotalCandidates int // contracts evaluated
	TotalTrades     int // trades included in the portfolio pass
	Wins            int
	Losses          int
	WinRate         float64

	AvgPnL    float64
	MedianPnL float64
	AvgROI    float64
	MedianROI float64

	SharpeRatio  *float64
	SortinoRatio *float64
	MaxDrawdown  float64 // peak-to-trough of cumulative dollar P&L
	ProfitFactor *float64

	StrategyPerformance map[string]BreakdownStats
	SymbolPerformance   map[string]BreakdownStats

	StartingPortfolio    float64
	EndingPortfolio      float64
	TotalReturn          float64 // percent
	CAGR                 float64 // fraction, e.g. 0.12
	PortfolioMaxDrawdown float64 // percent, from the equity-curve replay
	EquityCurve          []EquityPoint

	Trades []TradeMatch
}
