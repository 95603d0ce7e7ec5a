package ips

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vertex/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestScoreLTEDeltaMax(t *testing.T) {
	// A short-delta cap: delta_max lte 0.20.
	factor := Factor{Key: "delta_max", Weight: 1, Operator: OpLTE, Target: 0.20, Enabled: true}

	score, met := scoreFactor(factor, 0.15)
	assert.True(t, met, "0.15 <= 0.20 should meet the target")
	assert.GreaterOrEqual(t, score, 70.0)
	assert.LessOrEqual(t, score, 100.0)

	score, met = scoreFactor(factor, 0.30)
	assert.False(t, met, "0.30 > 0.20 should fail the target")
	assert.Less(t, score, 70.0)
}

func TestScoreGTEMonotonic(t *testing.T) {
	factor := Factor{Key: "open_interest", Weight: 1, Operator: OpGTE, Target: 500, Enabled: true}

	prev := -1.0
	for _, v := range []float64{0, 100, 250, 499, 500, 600, 1000, 5000, 100000} {
		score, _ := scoreFactor(factor, v)
		assert.GreaterOrEqual(t, score, prev, "gte score must not decrease as value grows (value=%v)", v)
		prev = score
	}
}

func TestScoreLTEMonotonic(t *testing.T) {
	factor := Factor{Key: "iv", Weight: 1, Operator: OpLTE, Target: 0.5, Enabled: true}

	prev := 101.0
	for _, v := range []float64{0, 0.1, 0.3, 0.5, 0.6, 1.0, 3.0} {
		score, _ := scoreFactor(factor, v)
		assert.LessOrEqual(t, score, prev, "lte score must not increase as value grows (value=%v)", v)
		prev = score
	}
}

func TestScoreGTEBoundary(t *testing.T) {
	factor := Factor{Key: "volume", Operator: OpGTE, Target: 100, Enabled: true}

	// Exactly at target: met with the floor score of 70.
	score, met := scoreFactor(factor, 100)
	assert.True(t, met)
	assert.InDelta(t, 70.0, score, 1e-9)

	// Halfway to target from below: 100 * 50/100 = 50.
	score, met = scoreFactor(factor, 50)
	assert.False(t, met)
	assert.InDelta(t, 50.0, score, 1e-9)
}

func TestScoreEQBands(t *testing.T) {
	factor := Factor{Key: "theta", Operator: OpEQ, Target: 100, Enabled: true}

	cases := []struct {
		value     float64
		wantScore float64
		wantMet   bool
	}{
		{100, 100, true},
		{104, 100, true},  // 4% error, inside the met band
		{108, 90, false},  // 8%
		{115, 75, false},  // 15%
		{140, 50, false},  // 40%
		{180, 10, false},  // 80% -> 50 - 50*0.8
		{300, 0, false},   // clamped at 0
	}
	for _, tc := range cases {
		score, met := scoreFactor(factor, tc.value)
		assert.Equal(t, tc.wantMet, met, "value %v", tc.value)
		assert.InDelta(t, tc.wantScore, score, 1e-9, "value %v", tc.value)
	}
}

func TestScoreRange(t *testing.T) {
	factor := Factor{Key: "dte", Operator: OpRange, Target: 30, TargetMax: f64(45), Enabled: true}

	// Center of the band scores highest.
	center, met := scoreFactor(factor, 37.5)
	assert.True(t, met)
	assert.InDelta(t, 100.0, center, 1e-9)

	// Edges are met with the floor score.
	edge, met := scoreFactor(factor, 30)
	assert.True(t, met)
	assert.InDelta(t, 70.0, edge, 1e-9)

	// Outside the band decays below 70 and eventually to 0.
	out, met := scoreFactor(factor, 25)
	assert.False(t, met)
	assert.Less(t, out, 70.0)
	assert.Greater(t, out, 0.0)

	far, met := scoreFactor(factor, 0)
	assert.False(t, met)
	assert.Equal(t, 0.0, far)
}

func TestEvaluateAllOrNothing(t *testing.T) {
	factors := []Factor{
		{Key: "delta_max", Weight: 5, Operator: OpLTE, Target: 0.20, Enabled: true},
		{Key: "open_interest", Weight: 1, Operator: OpGTE, Target: 500, Enabled: true},
	}

	// One failing factor fails the whole candidate, regardless of weights.
	ev := Evaluate(factors, map[string]float64{"delta_max": 0.10, "open_interest": 200})
	assert.False(t, ev.Passed)
	require.Len(t, ev.FailingFactors, 1)
	assert.Equal(t, "open_interest", ev.FailingFactors[0])
	assert.Equal(t, ev.Passed, len(ev.FailingFactors) == 0)

	ev = Evaluate(factors, map[string]float64{"delta_max": 0.10, "open_interest": 900})
	assert.True(t, ev.Passed)
	assert.Empty(t, ev.FailingFactors)
}

func TestEvaluateMissingValue(t *testing.T) {
	factors := []Factor{
		{Key: "sentiment_score", Weight: 1, Operator: OpGTE, Target: 0.1, Enabled: true},
	}

	ev := Evaluate(factors, map[string]float64{})
	assert.False(t, ev.Passed)
	require.Len(t, ev.Factors, 1)
	assert.True(t, ev.Factors[0].Missing)
	assert.Equal(t, 0.0, ev.Factors[0].Score)
}

func TestEvaluateWeightedScore(t *testing.T) {
	factors := []Factor{
		{Key: "a", Weight: 3, Operator: OpGTE, Target: 100, Enabled: true},
		{Key: "b", Weight: 1, Operator: OpGTE, Target: 100, Enabled: true},
	}

	// a met exactly (70), b at half target (50): (3*70 + 1*50) / 4 = 65.
	ev := Evaluate(factors, map[string]float64{"a": 100, "b": 50})
	assert.InDelta(t, 65.0, ev.Score, 1e-9)
}

func TestEvaluateSkipsDisabled(t *testing.T) {
	factors := []Factor{
		{Key: "a", Weight: 1, Operator: OpGTE, Target: 100, Enabled: true},
		{Key: "b", Weight: 9, Operator: OpGTE, Target: 1e9, Enabled: false},
	}

	ev := Evaluate(factors, map[string]float64{"a": 100})
	assert.True(t, ev.Passed, "disabled factors must not affect the pass decision")
	require.Len(t, ev.Factors, 1)
}

func TestCandidateValues(t *testing.T) {
	c := &domain.TradeCandidate{
		Snapshot: domain.OptionSnapshot{
			Greeks:       domain.Greeks{Delta: -0.18, Gamma: 0.02, Theta: -0.03},
			IV:           0.22,
			DTE:          45,
			OpenInterest: 1500,
			Volume:       320,
			Bid:          0.95,
			Ask:          1.05,
			Mark:         1.00,
		},
		Strategy:    "put-credit-spread",
		SpreadWidth: 5,
	}

	values := CandidateValues(c, &domain.Sentiment{Score: 0.4, ArticleCount: 7})
	assert.InDelta(t, 0.18, values["delta"], 1e-9, "delta should be absolute")
	assert.InDelta(t, 0.82, values["pop"], 1e-9)
	assert.InDelta(t, 45.0, values["dte"], 1e-9)
	assert.InDelta(t, 0.10, values["bid_ask_spread"], 1e-9)
	assert.InDelta(t, 0.20, values["credit_to_width"], 1e-9)
	assert.InDelta(t, 0.4, values["sentiment_score"], 1e-9)

	// Without sentiment the keys are absent, not zero.
	values = CandidateValues(c, nil)
	_, ok := values["sentiment_score"]
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ips.yaml")
	body := `
id: test-ips
name: Conservative puts
min_dte: 30
max_dte: 60
strategies: [put-credit-spread]
factors:
  - key: delta_max
    weight: 5
    operator: lte
    target: 0.20
    enabled: true
  - key: dte
    weight: 2
    operator: range
    target: 30
    target_max: 45
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Conservative puts", p.Name)
	assert.Len(t, p.EnabledFactors(), 2)
	// Defaults are applied on load.
	assert.Equal(t, float64(DefaultProfitTargetPct), p.Exit.ProfitTargetPct)
	assert.Equal(t, float64(DefaultStopLossPct), p.Exit.StopLossPct)
}

func TestLoadFileRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ips.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: empty\nfactors: []\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err, "an ips with no enabled factors is a configuration error")
}
