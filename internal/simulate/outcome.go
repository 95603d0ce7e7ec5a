// Package simulate walks a trade candidate's subsequent price history to
// find its realized exit, or falls back to a delta-based probabilistic
// outcome when no history exists.
package simulate

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"vertex/internal/domain"
	"vertex/internal/ips"
	"vertex/internal/util"
)

// PriceHistory supplies the daily snapshots of a single contract after its
// entry date. Implemented by store.ParquetStore.
type PriceHistory interface {
	ReadContractHistory(ctx context.Context, symbol, contractSymbol string, from, to time.Time) ([]domain.OptionSnapshot, error)
}

// Simulator computes realized outcomes for trade matches. It mutates each
// match exactly once, filling the exit fields.
type Simulator struct {
	history PriceHistory // nil forces the probabilistic path
	rng     *rand.Rand
	log     *slog.Logger
}

// New creates a Simulator. The random source drives the probabilistic
// fallback only; pass a fixed-seed source for deterministic runs.
func New(history PriceHistory, rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulator{
		history: history,
		rng:     rng,
		log:     slog.Default().With("component", "simulator"),
	}
}

// Simulate fills the outcome fields of m. A history read error is downgraded
// to the probabilistic fallback; Simulate itself never fails a candidate.
func (s *Simulator) Simulate(ctx context.Context, m *domain.TradeMatch, exit ips.ExitThresholds) {
	if s.history != nil {
		snaps, err := s.history.ReadContractHistory(ctx, m.Symbol, m.ContractSymbol, m.EntryDate.AddDate(0, 0, 1), m.ExpirationDate)
		if err != nil {
			s.log.Warn("contract history unavailable, using probabilistic outcome",
				"contract", m.ContractSymbol, "err", err)
		} else if len(snaps) > 0 {
			s.walkHistory(m, snaps, exit)
			return
		}
	}
	s.simulateProbabilistic(m, exit)
}

// walkHistory replays the contract's daily marks and exits at the first
// profit-target or stop-loss touch, settling at the last known mark when
// neither triggers before expiration.
func (s *Simulator) walkHistory(m *domain.TradeMatch, snaps []domain.OptionSnapshot, exit ips.ExitThresholds) {
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].SnapshotDate.Before(snaps[j].SnapshotDate)
	})

	profitPrice := m.EntryCredit * (1 - exit.ProfitTargetPct/100)
	stopPrice := m.EntryCredit * (1 + exit.StopLossPct/100)

	var lastDate time.Time
	lastMark := m.EntryCredit
	for i := range snaps {
		day := &snaps[i]
		mark := day.MidMark()
		if mark <= 0 {
			continue
		}
		lastDate, lastMark = day.SnapshotDate, mark

		if mark <= profitPrice {
			s.recordExit(m, day.SnapshotDate, mark, domain.OutcomeWin)
			return
		}
		if mark >= stopPrice {
			s.recordExit(m, day.SnapshotDate, mark, domain.OutcomeLoss)
			return
		}
	}

	// Neither threshold triggered: settle at the last observed mark.
	if lastDate.IsZero() {
		lastDate = m.ExpirationDate
	}
	outcome := domain.OutcomeLoss
	if m.EntryCredit-lastMark > 0 {
		outcome = domain.OutcomeWin
	}
	s.recordExit(m, lastDate, lastMark, outcome)
}

// simulateProbabilistic draws a single outcome using POP = 1 - |delta|.
// A win exits at the profit-target price at half the tenor; a loss exits at
// the stop price at full tenor. One draw per candidate keeps run cost flat
// but makes unseeded runs non-repeatable.
func (s *Simulator) simulateProbabilistic(m *domain.TradeMatch, exit ips.ExitThresholds) {
	winProb := 1 - math.Abs(m.Delta)
	if winProb < 0 {
		winProb = 0
	}

	if s.rng.Float64() < winProb {
		exitDate := util.NextTradingDay(m.EntryDate.AddDate(0, 0, max(m.DTE/2, 1)))
		exitPrice := m.EntryCredit * (1 - exit.ProfitTargetPct/100)
		s.recordExit(m, exitDate, exitPrice, domain.OutcomeWin)
		return
	}

	exitDate := util.NextTradingDay(m.EntryDate.AddDate(0, 0, max(m.DTE, 1)))
	exitPrice := m.EntryCredit * (1 + exit.StopLossPct/100)
	s.recordExit(m, exitDate, exitPrice, domain.OutcomeLoss)
}

// recordExit applies the fixed-width credit-spread P&L model: one contract
// collects credit*100 at entry and pays exitPrice*100 to close, risking
// (width - credit)*100.
func (s *Simulator) recordExit(m *domain.TradeMatch, exitDate time.Time, exitPrice float64, outcome domain.Outcome) {
	pnl := (m.EntryCredit - exitPrice) * 100
	maxRisk := (m.SpreadWidth - m.EntryCredit) * 100

	m.ExitDate = exitDate
	m.ExitPrice = exitPrice
	m.RealizedPnL = pnl
	if maxRisk > 0 {
		m.RealizedROI = pnl / maxRisk * 100
	}
	m.DaysHeld = int(exitDate.Sub(m.EntryDate).Hours() / 24)
	if m.DaysHeld < 0 {
		m.DaysHeld = 0
	}
	m.Outcome = outcome
}
