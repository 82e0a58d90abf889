package evaluate

import (
	"math"
	"strings"
	"unicode"
)

// Normalize canonicalizes a transcript before scoring: lower-case, strip
// punctuation, collapse runs of whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Alignment is the minimum-edit alignment between a reference and a
// hypothesis token sequence.
type Alignment struct {
	Substitutions int
	Insertions    int
	Deletions     int
	Hits          int
}

// Errors returns the total edit count.
func (a Alignment) Errors() int {
	return a.Substitutions + a.Insertions + a.Deletions
}

// AlignWords computes the Levenshtein alignment between two token slices and
// backtracks the edit counts.
func AlignWords(ref, hyp []string) Alignment {
	rows, cols := len(ref)+1, len(hyp)+1
	dist := make([][]int, rows)
	for i := range dist {
		dist[i] = make([]int, cols)
		dist[i][0] = i
	}
	for j := 1; j < cols; j++ {
		dist[0][j] = j
	}
	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			if ref[i-1] == hyp[j-1] {
				dist[i][j] = dist[i-1][j-1]
				continue
			}
			dist[i][j] = 1 + min3(dist[i-1][j-1], dist[i-1][j], dist[i][j-1])
		}
	}

	var out Alignment
	i, j := len(ref), len(hyp)
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1] && dist[i][j] == dist[i-1][j-1]:
			out.Hits++
			i--
			j--
		case i > 0 && j > 0 && dist[i][j] == dist[i-1][j-1]+1:
			out.Substitutions++
			i--
			j--
		case i > 0 && dist[i][j] == dist[i-1][j]+1:
			out.Deletions++
			i--
		default:
			out.Insertions++
			j--
		}
	}
	return out
}

// WordErrorRate scores hypothesis against reference after normalization.
// An empty reference with a non-empty hypothesis is infinitely wrong; two
// empty strings score zero.
func WordErrorRate(reference, hypothesis string) float64 {
	ref := tokens(reference)
	hyp := tokens(hypothesis)
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return float64(AlignWords(ref, hyp).Errors()) / float64(len(ref))
}

// CharacterErrorRate scores at character granularity with the same edge
// rules as WordErrorRate.
func CharacterErrorRate(reference, hypothesis string) float64 {
	ref := chars(Normalize(reference))
	hyp := chars(Normalize(hypothesis))
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return float64(AlignWords(ref, hyp).Errors()) / float64(len(ref))
}

func tokens(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, " ")
}

func chars(text string) []string {
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
