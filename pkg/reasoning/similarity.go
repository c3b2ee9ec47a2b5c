package reasoning

import (
	"math"
	"strings"
	"unicode"
)

// Scorer measures lexical similarity between two texts in [0, 1]. The
// workflow's topic-change heuristic consumes this; swap implementations to
// change how topic drift is detected.
type Scorer interface {
	Score(a, b string) float64
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(a, b string) float64

func (f ScorerFunc) Score(a, b string) float64 { return f(a, b) }

// TFIDFScorer computes cosine similarity over smoothed TF-IDF vectors of
// the two texts. Stateless and safe for concurrent use.
type TFIDFScorer struct{}

func (TFIDFScorer) Score(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	fa := termFreq(ta)
	fb := termFreq(tb)

	// Smoothed IDF over the two-document corpus so shared terms keep a
	// nonzero weight.
	idf := func(term string) float64 {
		df := 0.0
		if _, ok := fa[term]; ok {
			df++
		}
		if _, ok := fb[term]; ok {
			df++
		}
		return math.Log(3.0/(1.0+df)) + 1.0
	}

	var dot, na, nb float64
	for term, tf := range fa {
		w := tf * idf(term)
		na += w * w
		if tfB, ok := fb[term]; ok {
			dot += w * tfB * idf(term)
		}
	}
	for term, tf := range fb {
		w := tf * idf(term)
		nb += w * w
	}

	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func termFreq(tokens []string) map[string]float64 {
	freq := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	n := float64(len(tokens))
	for t := range freq {
		freq[t] /= n
	}
	return freq
}
