package simulate

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vertex/internal/domain"
	"vertex/internal/ips"
)

var defaultExit = ips.ExitThresholds{ProfitTargetPct: 50, StopLossPct: 200}

type fakeHistory struct {
	snaps []domain.OptionSnapshot
	err   error
}

func (f *fakeHistory) ReadContractHistory(_ context.Context, _, _ string, _, _ time.Time) ([]domain.OptionSnapshot, error) {
	return f.snaps, f.err
}

func day(offset int) time.Time {
	return time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func newMatch() *domain.TradeMatch {
	return &domain.TradeMatch{
		Symbol:         "SPY",
		ContractSymbol: "SPY240621P00450000",
		EntryDate:      day(0),
		ExpirationDate: day(45),
		EntryCredit:    1.00,
		SpreadWidth:    5.00,
		DTE:            45,
		Delta:          -0.18,
	}
}

func marks(prices ...float64) []domain.OptionSnapshot {
	snaps := make([]domain.OptionSnapshot, len(prices))
	for i, p := range prices {
		snaps[i] = domain.OptionSnapshot{
			Symbol:         "SPY",
			ContractSymbol: "SPY240621P00450000",
			SnapshotDate:   day(i + 1),
			Mark:           p,
		}
	}
	return snaps
}

func TestWalkProfitTarget(t *testing.T) {
	// Credit 1.00, 50% profit target: exit when the mark first trades at or
	// below 0.50. Sequence [0.90, 0.70, 0.48] exits on day 3 at 0.48.
	sim := New(&fakeHistory{snaps: marks(0.90, 0.70, 0.48)}, rand.New(rand.NewSource(1)))

	m := newMatch()
	sim.Simulate(context.Background(), m, defaultExit)

	assert.Equal(t, domain.OutcomeWin, m.Outcome)
	assert.True(t, m.ExitDate.Equal(day(3)), "exit on the third history day")
	assert.InDelta(t, 0.48, m.ExitPrice, 1e-9)
	assert.InDelta(t, 52.0, m.RealizedPnL, 1e-9)
	assert.InDelta(t, 13.0, m.RealizedROI, 1e-9) // 52 / ((5-1)*100) * 100
	assert.Equal(t, 3, m.DaysHeld)
}

func TestWalkStopLoss(t *testing.T) {
	// 200% stop: exit when the mark reaches 3.00.
	sim := New(&fakeHistory{snaps: marks(1.50, 2.20, 3.10)}, rand.New(rand.NewSource(1)))

	m := newMatch()
	sim.Simulate(context.Background(), m, defaultExit)

	assert.Equal(t, domain.OutcomeLoss, m.Outcome)
	assert.InDelta(t, 3.10, m.ExitPrice, 1e-9)
	assert.InDelta(t, -210.0, m.RealizedPnL, 1e-9)
	assert.InDelta(t, -52.5, m.RealizedROI, 1e-9)
}

func TestWalkSettlesAtLastMark(t *testing.T) {
	// No trigger before the history ends: settle at the last known mark.
	sim := New(&fakeHistory{snaps: marks(0.90, 0.80, 0.75)}, rand.New(rand.NewSource(1)))

	m := newMatch()
	sim.Simulate(context.Background(), m, defaultExit)

	assert.Equal(t, domain.OutcomeWin, m.Outcome, "positive settle pnl is a win")
	assert.InDelta(t, 0.75, m.ExitPrice, 1e-9)
	assert.InDelta(t, 25.0, m.RealizedPnL, 1e-9)

	// A settle above the entry credit is a loss.
	sim = New(&fakeHistory{snaps: marks(1.10, 1.20)}, rand.New(rand.NewSource(1)))
	m = newMatch()
	sim.Simulate(context.Background(), m, defaultExit)
	assert.Equal(t, domain.OutcomeLoss, m.Outcome)
	assert.InDelta(t, -20.0, m.RealizedPnL, 1e-9)
}

func TestWalkSkipsZeroMarks(t *testing.T) {
	snaps := marks(0, 0.70, 0.48)
	sim := New(&fakeHistory{snaps: snaps}, rand.New(rand.NewSource(1)))

	m := newMatch()
	sim.Simulate(context.Background(), m, defaultExit)

	assert.Equal(t, domain.OutcomeWin, m.Outcome)
	assert.InDelta(t, 0.48, m.ExitPrice, 1e-9)
}

func TestFallbackDeterministicWithSeed(t *testing.T) {
	run := func() *domain.TradeMatch {
		sim := New(&fakeHistory{}, rand.New(rand.NewSource(42)))
		m := newMatch()
		sim.Simulate(context.Background(), m, defaultExit)
		return m
	}

	a, b := run(), run()
	assert.Equal(t, a.Outcome, b.Outcome, "same seed must reproduce the same outcome")
	assert.Equal(t, a.RealizedPnL, b.RealizedPnL)
	assert.True(t, a.ExitDate.Equal(b.ExitDate))
}

func TestFallbackWinExit(t *testing.T) {
	// POP = 1 - |delta| = 0.95, and a source whose first draw is below it.
	sim := New(nil, rand.New(rand.NewSource(1)))

	m := newMatch()
	m.Delta = -0.05
	sim.Simulate(context.Background(), m, defaultExit)

	require.Equal(t, domain.OutcomeWin, m.Outcome)
	assert.InDelta(t, 0.50, m.ExitPrice, 1e-9, "win exits at the profit-target price")
	assert.InDelta(t, 50.0, m.RealizedPnL, 1e-9)
	// Half the tenor, rolled forward to a trading day.
	assert.False(t, m.ExitDate.Before(m.EntryDate.AddDate(0, 0, m.DTE/2)))
	wd := m.ExitDate.Weekday()
	assert.NotEqual(t, time.Saturday, wd)
	assert.NotEqual(t, time.Sunday, wd)
}

func TestFallbackLossExit(t *testing.T) {
	// |delta| = 1 forces POP to 0, so every draw is a loss.
	sim := New(nil, rand.New(rand.NewSource(7)))

	m := newMatch()
	m.Delta = 1.0
	sim.Simulate(context.Background(), m, defaultExit)

	require.Equal(t, domain.OutcomeLoss, m.Outcome)
	assert.InDelta(t, 3.00, m.ExitPrice, 1e-9, "loss exits at the stop price")
	assert.InDelta(t, -200.0, m.RealizedPnL, 1e-9)
	assert.False(t, m.ExitDate.Before(m.EntryDate.AddDate(0, 0, m.DTE)))
}

func TestHistoryErrorFallsBack(t *testing.T) {
	sim := New(&fakeHistory{err: errors.New("parquet read failed")}, rand.New(rand.NewSource(3)))

	m := newMatch()
	m.Delta = 1.0 // deterministic loss path
	sim.Simulate(context.Background(), m, defaultExit)

	assert.Equal(t, domain.OutcomeLoss, m.Outcome, "data errors must not abort the candidate")
	assert.False(t, m.ExitDate.IsZero())
}

func TestEmptyHistoryFallsBack(t *testing.T) {
	sim := New(&fakeHistory{}, rand.New(rand.NewSource(3)))

	m := newMatch()
	m.Delta = 0.0 // deterministic win path
	sim.Simulate(context.Background(), m, defaultExit)

	assert.Equal(t, domain.OutcomeWin, m.Outcome)
}
