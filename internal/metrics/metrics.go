// Package metrics aggregates closed trades into risk-adjusted performance
// statistics. Everything here is pure computation over the trade list.
package metrics

import (
	"math"
	"sort"

	"vertex/internal/domain"
)

// RiskFreeRate is the flat constant subtracted from mean ROI in the Sharpe
// and Sortino numerators. It is a simplification: a fixed 2 (percent), not
// an annualized risk-free curve.
const RiskFreeRate = 2.0

// Stats holds the aggregate statistics over a set of closed trades. Ratio
// fields are nil when the statistic is undefined for the inputs.
type Stats struct {
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64

	AvgPnL    float64
	MedianPnL float64
	AvgROI    float64
	MedianROI float64

	SharpeRatio  *float64
	SortinoRatio *float64
	// MaxDrawdown is the peak-to-trough decline of the cumulative dollar
	// P&L sequence in trade order. This is distinct from the portfolio
	// percentage drawdown produced by the equity-curve replay.
	MaxDrawdown  float64
	ProfitFactor *float64

	StrategyPerformance map[string]domain.BreakdownStats
	SymbolPerformance   map[string]domain.BreakdownStats
}

// Compute aggregates the given closed trades. Trade order matters only for
// the cumulative drawdown; callers pass trades in entry-date order.
func Compute(trades []domain.TradeMatch) Stats {
	s := Stats{
		StrategyPerformance: breakdown(trades, func(m *domain.TradeMatch) string { return m.Strategy }),
		SymbolPerformance:   breakdown(trades, func(m *domain.TradeMatch) string { return m.Symbol }),
	}
	if len(trades) == 0 {
		return s
	}

	pnls := make([]float64, len(trades))
	rois := make([]float64, len(trades))
	var grossProfit, grossLoss float64
	for i := range trades {
		m := &trades[i]
		pnls[i] = m.RealizedPnL
		rois[i] = m.RealizedROI
		if m.Outcome == domain.OutcomeWin {
			s.Wins++
		} else {
			s.Losses++
		}
		if m.RealizedPnL > 0 {
			grossProfit += m.RealizedPnL
		} else {
			grossLoss += m.RealizedPnL
		}
	}

	s.TotalTrades = len(trades)
	s.WinRate = float64(s.Wins) / float64(s.TotalTrades) * 100
	s.AvgPnL = mean(pnls)
	s.MedianPnL = median(pnls)
	s.AvgROI = mean(rois)
	s.MedianROI = median(rois)
	s.SharpeRatio = sharpe(rois)
	s.SortinoRatio = sortino(rois)
	s.MaxDrawdown = cumulativeDrawdown(pnls)

	if grossLoss != 0 {
		pf := grossProfit / math.Abs(grossLoss)
		s.ProfitFactor = &pf
	}
	return s
}

// sharpe returns (mean - RiskFreeRate) / stddev of the ROI series, or nil
// when fewer than two samples exist or the series has no variance.
func sharpe(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	sd := stddev(returns)
	if sd == 0 {
		return nil
	}
	v := (mean(returns) - RiskFreeRate) / sd
	return &v
}

// sortino is the Sharpe numerator over the standard deviation of the
// negative returns only. Nil when there are no losing returns, or when the
// downside has no variance.
func sortino(returns []float64) *float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return nil
	}
	sd := stddev(downside)
	if sd == 0 {
		return nil
	}
	v := (mean(returns) - RiskFreeRate) / sd
	return &v
}

// cumulativeDrawdown walks the running dollar P&L total and returns the
// largest peak-to-trough decline.
func cumulativeDrawdown(pnls []float64) float64 {
	var cum, peak, maxDD float64
	for _, p := range pnls {
		cum += p
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func breakdown(trades []domain.TradeMatch, key func(*domain.TradeMatch) string) map[string]domain.BreakdownStats {
	groups := make(map[string][]int)
	for i := range trades {
		k := key(&trades[i])
		groups[k] = append(groups[k], i)
	}

	out := make(map[string]domain.BreakdownStats, len(groups))
	for k, idxs := range groups {
		var b domain.BreakdownStats
		var roiSum float64
		for _, i := range idxs {
			m := &trades[i]
			b.Trades++
			if m.Outcome == domain.OutcomeWin {
				b.Wins++
			}
			b.TotalPnL += m.RealizedPnL
			roiSum += m.RealizedROI
		}
		b.WinRate = float64(b.Wins) / float64(b.Trades) * 100
		b.AvgROI = roiSum / float64(b.Trades)
		out[k] = b
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// median uses the sorted-array midpoint, averaging the two middle elements
// on even length.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// stddev is the population standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}
