package ips

import (
	"math"

	"vertex/internal/domain"
)

// Evaluation is the result of scoring one candidate against a rule set.
type Evaluation struct {
	// Score is the weight-normalized overall score in [0, 100].
	Score float64
	// Passed is true only when every enabled factor met its target.
	// Weights never relax the pass decision.
	Passed         bool
	Factors        []domain.FactorScore
	FailingFactors []string
}

// Evaluate scores the value map against every enabled factor. It is a pure
// function: no state, no I/O. A factor whose key is absent from values
// scores zero and fails.
func Evaluate(factors []Factor, values map[string]float64) Evaluation {
	ev := Evaluation{Passed: true}

	var weightSum, weightedScore float64
	for _, f := range factors {
		if !f.Enabled {
			continue
		}

		fs := domain.FactorScore{Key: f.Key, Weight: f.Weight}
		value, ok := values[f.Key]
		if !ok {
			fs.Missing = true
		} else {
			fs.Value = value
			fs.Score, fs.Met = scoreFactor(f, value)
		}

		if !fs.Met {
			ev.Passed = false
			ev.FailingFactors = append(ev.FailingFactors, f.Key)
		}

		weightSum += f.Weight
		weightedScore += f.Weight * fs.Score
		ev.Factors = append(ev.Factors, fs)
	}

	switch {
	case weightSum > 0:
		ev.Score = weightedScore / weightSum
	case len(ev.Factors) > 0:
		// All-zero weights: fall back to an unweighted mean.
		var sum float64
		for _, fs := range ev.Factors {
			sum += fs.Score
		}
		ev.Score = sum / float64(len(ev.Factors))
	}

	if len(ev.Factors) == 0 {
		ev.Passed = false
	}
	return ev
}

// scoreFactor computes the continuous individual score in [0, 100] and the
// target-met flag for one factor.
func scoreFactor(f Factor, value float64) (score float64, met bool) {
	switch f.Operator {
	case OpGTE:
		return scoreGTE(value, f.Target)
	case OpLTE:
		return scoreLTE(value, f.Target)
	case OpEQ:
		return scoreEQ(value, f.Target)
	case OpRange:
		if f.TargetMax == nil {
			return 0, false
		}
		return scoreRange(value, f.Target, *f.TargetMax)
	default:
		return 0, false
	}
}

func scoreGTE(value, target float64) (float64, bool) {
	denom := math.Max(target, 1)
	if value >= target {
		return clamp100(70 + 30*(value-target)/denom), true
	}
	if target <= 0 {
		return 0, false
	}
	// Cap the miss branch at the met floor so the score stays monotone in
	// value across the target boundary.
	return math.Min(70, clamp100(100*value/target)), false
}

func scoreLTE(value, target float64) (float64, bool) {
	denom := math.Max(target, 1)
	if value <= target {
		return clamp100(70 + 30*(target-value)/denom), true
	}
	return clamp100(70 - 70*(value-target)/denom), false
}

func scoreEQ(value, target float64) (float64, bool) {
	relErr := math.Abs(value-target) / math.Max(math.Abs(target), 1)
	switch {
	case relErr <= 0.05:
		return 100, true
	case relErr <= 0.10:
		return 90, false
	case relErr <= 0.20:
		return 75, false
	case relErr <= 0.50:
		return 50, false
	default:
		return clamp100(50 - 50*relErr), false
	}
}

func scoreRange(value, lo, hi float64) (float64, bool) {
	width := hi - lo
	if width <= 0 {
		return 0, false
	}
	if value >= lo && value <= hi {
		// Peak score at the center of the band, 70 at either edge.
		position := (value - lo) / width
		return clamp100(70 + 30*(1-2*math.Abs(position-0.5))), true
	}

	// Outside the band: decay linearly from 70 to 0 over one band width
	// past the nearer bound.
	var dist float64
	if value < lo {
		dist = lo - value
	} else {
		dist = value - hi
	}
	return clamp100(70 - 70*dist/width), false
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// CandidateValues builds the factor-input map for a trade candidate. Every
// value is observable on the candidate's snapshot date; sentiment, when
// present, was fetched for that same date. Delta-family keys use absolute
// values so put and call rules read the same way.
func CandidateValues(c *domain.TradeCandidate, sent *domain.Sentiment) map[string]float64 {
	s := &c.Snapshot
	values := map[string]float64{
		"delta":         math.Abs(s.Greeks.Delta),
		"delta_max":     math.Abs(s.Greeks.Delta),
		"gamma":         s.Greeks.Gamma,
		"theta":         s.Greeks.Theta,
		"vega":          s.Greeks.Vega,
		"rho":           s.Greeks.Rho,
		"iv":            s.IV,
		"dte":           float64(s.DTE),
		"open_interest": float64(s.OpenInterest),
		"volume":        float64(s.Volume),
		"entry_credit":  c.EntryCredit(),
		"pop":           1 - math.Abs(s.Greeks.Delta),
	}
	if s.Bid > 0 && s.Ask >= s.Bid {
		values["bid_ask_spread"] = s.Ask - s.Bid
	}
	if c.EntryCredit() > 0 {
		values["credit_to_width"] = c.EntryCredit() / c.SpreadWidth
	}
	if sent != nil {
		values["sentiment_score"] = sent.Score
		values["sentiment_articles"] = float64(sent.ArticleCount)
	}
	return values
}
