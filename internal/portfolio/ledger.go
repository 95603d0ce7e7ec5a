// Package portfolio replays accepted trades chronologically against a
// capital base, sizing positions and building the equity curve.
package portfolio

import (
	"math"
	"sort"
	"time"

	"vertex/internal/domain"
)

// Default capital parameters for a run that does not override them.
const (
	DefaultStartingValue = 25_000.0
	DefaultRiskPerTrade  = 2.0 // percent of current portfolio value per trade
)

// Summary is the portfolio-level outcome of one replay pass.
type Summary struct {
	StartingValue float64
	EndingValue   float64
	TotalReturn   float64 // percent
	CAGR          float64 // fraction per year over the backtest window
	MaxDrawdown   float64 // percent, peak-to-trough of portfolio value
	EquityCurve   []domain.EquityPoint
}

// Ledger sizes and books trades against a running capital base. The replay
// is order-sensitive and runs as a single sequential pass; the ledger owns
// its running totals exclusively for the duration of Replay.
type Ledger struct {
	startingValue float64
	riskPerTrade  float64
}

// NewLedger creates a Ledger with the given starting capital and per-trade
// risk percentage. Non-positive arguments fall back to the defaults.
func NewLedger(startingValue, riskPerTradePct float64) *Ledger {
	if startingValue <= 0 {
		startingValue = DefaultStartingValue
	}
	if riskPerTradePct <= 0 {
		riskPerTradePct = DefaultRiskPerTrade
	}
	return &Ledger{
		startingValue: startingValue,
		riskPerTrade:  riskPerTradePct,
	}
}

// Replay processes trades strictly in ascending entry-date order, mutating
// each trade's portfolio fields exactly once. windowStart/windowEnd bound
// the configured backtest window and drive the CAGR annualization.
func (l *Ledger) Replay(trades []domain.TradeMatch, windowStart, windowEnd time.Time) Summary {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].EntryDate.Before(trades[j].EntryDate)
	})

	current := l.startingValue
	peak := current
	var maxDrawdown float64
	curve := make([]domain.EquityPoint, 0, len(trades))

	for i := range trades {
		m := &trades[i]

		riskAmount := current * l.riskPerTrade / 100
		maxRiskPerContract := (m.SpreadWidth - m.EntryCredit) * 100

		contracts := 0
		if maxRiskPerContract > 0 && riskAmount > 0 {
			contracts = int(math.Floor(riskAmount / maxRiskPerContract))
			if contracts < 1 {
				contracts = 1
			}
		}

		m.PortfolioValueBefore = current
		m.PositionSize = contracts
		m.CapitalAllocated = float64(contracts) * maxRiskPerContract

		current += m.RealizedPnL * float64(contracts)
		m.PortfolioValueAfter = current

		// No position taken, no curve point: the curve tracks only
		// trades that actually moved capital.
		if contracts == 0 {
			continue
		}

		curve = append(curve, domain.EquityPoint{
			Date:           m.ExitDate,
			PortfolioValue: current,
		})

		if current > peak {
			peak = current
		}
		if peak > 0 {
			if dd := (peak - current) / peak * 100; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	// Trades are booked in entry order but their exits interleave; the
	// published curve is date-ordered.
	sort.SliceStable(curve, func(i, j int) bool {
		return curve[i].Date.Before(curve[j].Date)
	})

	return Summary{
		StartingValue: l.startingValue,
		EndingValue:   current,
		TotalReturn:   (current - l.startingValue) / l.startingValue * 100,
		CAGR:          cagr(l.startingValue, current, windowStart, windowEnd),
		MaxDrawdown:   maxDrawdown,
		EquityCurve:   curve,
	}
}

// cagr annualizes over the wall-clock span of the configured backtest
// window, not the span of the trades that happened to fill it.
func cagr(starting, ending float64, windowStart, windowEnd time.Time) float64 {
	years := windowEnd.Sub(windowStart).Hours() / 24 / 365.25
	if years <= 0 || starting <= 0 {
		return 0
	}
	if ending <= 0 {
		return -1
	}
	return math.Pow(ending/starting, 1/years) - 1
}
