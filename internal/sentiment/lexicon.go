package sentiment

import (
	"sort"
	"strings"

	"vertex/internal/domain"
)

// Label thresholds on the aggregate score in [-1, 1].
const (
	bullishThreshold = 0.15
	bearishThreshold = -0.15
)

var bullishTerms = map[string]struct{}{
	"beat": {}, "beats": {}, "bullish": {}, "buy": {}, "buyback": {},
	"upgrade": {}, "upgraded": {}, "outperform": {}, "strong": {},
	"surge": {}, "surges": {}, "rally": {}, "rallies": {}, "record": {},
	"growth": {}, "gains": {}, "gain": {}, "profit": {}, "profits": {},
	"raises": {}, "raised": {}, "exceeds": {}, "tops": {}, "soars": {},
	"momentum": {}, "expansion": {}, "dividend": {}, "breakthrough": {},
}

var bearishTerms = map[string]struct{}{
	"miss": {}, "misses": {}, "missed": {}, "bearish": {}, "sell": {},
	"selloff": {}, "downgrade": {}, "downgraded": {}, "underperform": {},
	"weak": {}, "plunge": {}, "plunges": {}, "slump": {}, "slumps": {},
	"loss": {}, "losses": {}, "decline": {}, "declines": {}, "cuts": {},
	"cut": {}, "lawsuit": {}, "investigation": {}, "recall": {},
	"bankruptcy": {}, "layoffs": {}, "warns": {}, "warning": {},
	"tumbles": {}, "falls": {}, "drops": {},
}

// aggregate accumulates lexicon hits across a batch of articles.
type aggregate struct {
	bullish int
	bearish int
	hits    map[string]int
}

func newAggregate() *aggregate {
	return &aggregate{hits: make(map[string]int)}
}

func (a *aggregate) add(text string) {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?'\"()[]")
		if _, ok := bullishTerms[w]; ok {
			a.bullish++
			a.hits[w]++
		} else if _, ok := bearishTerms[w]; ok {
			a.bearish++
			a.hits[w]++
		}
	}
}

// sentiment folds the accumulated hits into a reading. Score is the signed
// fraction of bullish-minus-bearish hits; zero hits yields a neutral zero.
func (a *aggregate) sentiment() *domain.Sentiment {
	total := a.bullish + a.bearish
	s := &domain.Sentiment{Label: "neutral"}
	if total > 0 {
		s.Score = float64(a.bullish-a.bearish) / float64(total)
	}
	if s.Score > bullishThreshold {
		s.Label = "bullish"
	} else if s.Score < bearishThreshold {
		s.Label = "bearish"
	}
	s.TopTopics = a.topTerms(5)
	return s
}

func (a *aggregate) topTerms(n int) []string {
	terms := make([]string, 0, len(a.hits))
	for t := range a.hits {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if a.hits[terms[i]] != a.hits[terms[j]] {
			return a.hits[terms[i]] > a.hits[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}
