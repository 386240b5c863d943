// Package textrank shrinks text by extractive summarization: sentences are
// ranked by a TextRank-style similarity graph and the best ones are kept in
// their original order.
package textrank

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Summarizer holds the ranking constants. The zero value is not useful; use
// DefaultSummarizer or set every field.
type Summarizer struct {
	Damping    float64
	Iterations int
	// Epsilon keeps the cosine denominator away from zero.
	Epsilon float64
}

// DefaultSummarizer is used by the package-level functions.
var DefaultSummarizer = Summarizer{Damping: 0.85, Iterations: 20, Epsilon: 1e-10}

var lower = cases.Lower(language.Und)

// Sentences sanitizes text and splits it into sentences. Characters other
// than ASCII word characters, whitespace and the terminators . ! ? : are
// dropped. A sentence ends at a terminator followed by whitespace or at a
// line break.
func Sentences(text string) []string {
	var clean []rune
	for _, r := range text {
		if isWordRune(r) || unicode.IsSpace(r) || isTerminator(r) {
			clean = append(clean, r)
		}
	}

	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(clean); i++ {
		r := clean[i]
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if isTerminator(r) && i+1 < len(clean) && unicode.IsSpace(clean[i+1]) {
			flush()
			for i+1 < len(clean) && unicode.IsSpace(clean[i+1]) && clean[i+1] != '\n' {
				i++
			}
		}
	}
	flush()
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == ':'
}

// Rank keeps the k highest scoring sentences, in original order, joined by a
// single space.
func Rank(sentences []string, k int) string { return DefaultSummarizer.Rank(sentences, k) }

// RelativeRank summarizes text keeping a share of its sentences. With
// guaranteeNonEmpty at least one sentence survives when any exist.
func RelativeRank(text string, ratio float64, guaranteeNonEmpty bool) string {
	return DefaultSummarizer.RelativeRank(text, ratio, guaranteeNonEmpty)
}

// RelativeRank is the method form of the package function.
func (s Summarizer) RelativeRank(text string, ratio float64, guaranteeNonEmpty bool) string {
	sentences := Sentences(text)
	k := int(math.Round(float64(len(sentences)) * ratio))
	floor := 0
	if guaranteeNonEmpty {
		floor = 1
	}
	if k < floor {
		k = floor
	}
	return s.Rank(sentences, k)
}

// Rank scores sentences and returns the top k.
func (s Summarizer) Rank(sentences []string, k int) string {
	n := len(sentences)
	if n == 0 || k <= 0 {
		return ""
	}
	scores := s.Scores(sentences)

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if scores[idx[a]] != scores[idx[b]] {
			return scores[idx[a]] > scores[idx[b]]
		}
		return idx[a] < idx[b]
	})
	if k > n {
		k = n
	}
	picked := append([]int(nil), idx[:k]...)
	sort.Ints(picked)

	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = sentences[p]
	}
	return strings.Join(parts, " ")
}

// Scores runs the iterative ranking and returns one score per sentence.
func (s Summarizer) Scores(sentences []string) []float64 {
	n := len(sentences)
	sim := s.similarityMatrix(sentences)

	// norm(j) multiplies by the diagonal, which is never populated, so it
	// always falls back to 1. Kept as is so scores match existing fixtures.
	norms := make([]float64, n)
	for j := 0; j < n; j++ {
		var sum float64
		for k := 0; k < n; k++ {
			sum += sim[j][k] * sim[k][k]
		}
		if sum == 0 {
			sum = 1
		}
		norms[j] = sum
	}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1
	}
	next := make([]float64, n)
	for it := 0; it < s.Iterations; it++ {
		for i := 0; i < n; i++ {
			var sum float64
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				sum += sim[j][i] / norms[j] * scores[j]
			}
			next[i] = s.Damping*sum + (1 - s.Damping)
		}
		scores, next = next, scores
	}
	return scores
}

func (s Summarizer) similarityMatrix(sentences []string) [][]float64 {
	n := len(sentences)
	counts := make([]map[string]int, n)
	for i, sentence := range sentences {
		counts[i] = termCounts(sentence)
	}
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sim[i][j] = cosine(counts[i], counts[j], s.Epsilon)
		}
	}
	return sim
}

func termCounts(sentence string) map[string]int {
	words := strings.Fields(lower.String(sentence))
	out := make(map[string]int, len(words))
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, w)
		if w != "" {
			out[w]++
		}
	}
	return out
}

// cosine works over the union vocabulary of both sentences; words missing on
// one side contribute zero to the dot product.
func cosine(a, b map[string]int, eps float64) float64 {
	var dot, na, nb float64
	for w, ca := range a {
		na += float64(ca * ca)
		if cb, ok := b[w]; ok {
			dot += float64(ca * cb)
		}
	}
	for _, cb := range b {
		nb += float64(cb * cb)
	}
	return dot / (math.Sqrt(na)*math.Sqrt(nb) + eps)
}
