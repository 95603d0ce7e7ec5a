package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vertex/internal/domain"
)

func trade(symbol, strategy string, pnl, roi float64) domain.TradeMatch {
	outcome := domain.OutcomeLoss
	if pnl > 0 {
		outcome = domain.OutcomeWin
	}
	return domain.TradeMatch{
		Symbol:      symbol,
		Strategy:    strategy,
		EntryDate:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		RealizedPnL: pnl,
		RealizedROI: roi,
		Outcome:     outcome,
	}
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(nil)
	assert.Equal(t, 0, s.TotalTrades)
	assert.Nil(t, s.SharpeRatio)
	assert.Nil(t, s.SortinoRatio)
	assert.Nil(t, s.ProfitFactor)
	assert.Empty(t, s.StrategyPerformance)
}

func TestSharpeLiteralValue(t *testing.T) {
	// Returns [10, -5, 8, 12, -2]: mean 4.6, population stddev 6.8,
	// Sharpe = (4.6 - 2) / 6.8 = 0.38 to two decimals.
	trades := []domain.TradeMatch{
		trade("SPY", "pcs", 100, 10),
		trade("SPY", "pcs", -50, -5),
		trade("SPY", "pcs", 80, 8),
		trade("SPY", "pcs", 120, 12),
		trade("SPY", "pcs", -20, -2),
	}

	s := Compute(trades)
	require.NotNil(t, s.SharpeRatio)
	assert.InDelta(t, 0.38, *s.SharpeRatio, 0.005)

	// Downside returns [-5, -2]: population stddev 1.5,
	// Sortino = 2.6 / 1.5 = 1.73.
	require.NotNil(t, s.SortinoRatio)
	assert.InDelta(t, 1.73, *s.SortinoRatio, 0.005)
}

func TestSharpeUndefined(t *testing.T) {
	// n < 2.
	s := Compute([]domain.TradeMatch{trade("SPY", "pcs", 100, 10)})
	assert.Nil(t, s.SharpeRatio)

	// Zero variance.
	s = Compute([]domain.TradeMatch{
		trade("SPY", "pcs", 100, 10),
		trade("SPY", "pcs", 100, 10),
	})
	assert.Nil(t, s.SharpeRatio)
}

func TestSortinoUndefinedWithoutDownside(t *testing.T) {
	s := Compute([]domain.TradeMatch{
		trade("SPY", "pcs", 100, 10),
		trade("SPY", "pcs", 80, 8),
	})
	assert.Nil(t, s.SortinoRatio)
}

func TestProfitFactorDomain(t *testing.T) {
	// No losing trades: profit factor is undefined, not 0 or +Inf.
	s := Compute([]domain.TradeMatch{
		trade("SPY", "pcs", 100, 10),
		trade("SPY", "pcs", 50, 5),
	})
	assert.Nil(t, s.ProfitFactor)

	s = Compute([]domain.TradeMatch{
		trade("SPY", "pcs", 100, 10),
		trade("SPY", "pcs", -50, -5),
	})
	require.NotNil(t, s.ProfitFactor)
	assert.InDelta(t, 2.0, *s.ProfitFactor, 1e-9)
}

func TestMedianEvenAndOdd(t *testing.T) {
	s := Compute([]domain.TradeMatch{
		trade("SPY", "pcs", 10, 1),
		trade("SPY", "pcs", 30, 3),
		trade("SPY", "pcs", 20, 2),
	})
	assert.InDelta(t, 20.0, s.MedianPnL, 1e-9)

	s = Compute([]domain.TradeMatch{
		trade("SPY", "pcs", 10, 1),
		trade("SPY", "pcs", 40, 4),
		trade("SPY", "pcs", 30, 3),
		trade("SPY", "pcs", 20, 2),
	})
	assert.InDelta(t, 25.0, s.MedianPnL, 1e-9, "even length averages the two middle elements")
}

func TestCumulativeDrawdown(t *testing.T) {
	// Cumulative P&L walks 100, 40, 160, 60, 110: the worst peak-to-trough
	// drop is 160 -> 60.
	trades := []domain.TradeMatch{
		trade("SPY", "pcs", 100, 10),
		trade("SPY", "pcs", -60, -6),
		trade("SPY", "pcs", 120, 12),
		trade("SPY", "pcs", -100, -10),
		trade("SPY", "pcs", 50, 5),
	}

	s := Compute(trades)
	assert.InDelta(t, 100.0, s.MaxDrawdown, 1e-9)
}

func TestDrawdownLeadingLoss(t *testing.T) {
	// A first losing trade draws down from the flat starting point.
	s := Compute([]domain.TradeMatch{
		trade("SPY", "pcs", -80, -8),
		trade("SPY", "pcs", 30, 3),
	})
	assert.InDelta(t, 80.0, s.MaxDrawdown, 1e-9)
}

func TestBreakdowns(t *testing.T) {
	trades := []domain.TradeMatch{
		trade("SPY", "put-credit-spread", 100, 10),
		trade("SPY", "put-credit-spread", -50, -5),
		trade("QQQ", "call-credit-spread", 80, 8),
	}

	s := Compute(trades)

	spy := s.SymbolPerformance["SPY"]
	assert.Equal(t, 2, spy.Trades)
	assert.Equal(t, 1, spy.Wins)
	assert.InDelta(t, 50.0, spy.WinRate, 1e-9)
	assert.InDelta(t, 2.5, spy.AvgROI, 1e-9)
	assert.InDelta(t, 50.0, spy.TotalPnL, 1e-9)

	ccs := s.StrategyPerformance["call-credit-spread"]
	assert.Equal(t, 1, ccs.Trades)
	assert.InDelta(t, 100.0, ccs.WinRate, 1e-9)
}

func TestWinRate(t *testing.T) {
	s := Compute([]domain.TradeMatch{
		trade("SPY", "pcs", 100, 10),
		trade("SPY", "pcs", 60, 6),
		trade("SPY", "pcs", -40, -4),
	})
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 66.6667, s.WinRate, 0.001)
}
