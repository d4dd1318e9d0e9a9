// Package scoring rates provider responses against the prompt that produced
// them. The hybrid score blends response length, error state, textual
// similarity, and inverse latency into a single value in [0,1]; the router
// multiplies it by descriptor bias afterwards.
package scoring

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// lengthCap is where the length sub-score saturates: anything at or beyond
// 4000 runes scores 1.0 on length.
const lengthCap = 4000

// Weights controls the blend of the four sub-scores. Callers normally obtain
// one from DefaultWeights or FromEnv and pass it unchanged; Score normalizes
// before use.
type Weights struct {
	Length     float64 `json:"length"`
	Match      float64 `json:"match"`
	Similarity float64 `json:"similarity"`
	Latency    float64 `json:"latency"`
}

// DefaultWeights returns the built-in blend.
func DefaultWeights() Weights {
	return Weights{Length: 0.15, Match: 0.25, Similarity: 0.45, Latency: 0.15}
}

// FromEnv reads RAEBURN_SCORE_WEIGHTS. An unset variable yields the defaults.
func FromEnv() Weights {
	return Parse(os.Getenv("RAEBURN_SCORE_WEIGHTS"))
}

// Parse accepts either a JSON object with length/match/similarity/latency
// keys (missing keys keep their defaults) or a CSV of up to four values in
// that order (a short list leaves the remainder at defaults). Anything
// unparseable yields the defaults.
func Parse(s string) Weights {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultWeights()
	}
	if strings.HasPrefix(s, "{") {
		var raw struct {
			Length     *float64 `json:"length"`
			Match      *float64 `json:"match"`
			Similarity *float64 `json:"similarity"`
			Latency    *float64 `json:"latency"`
		}
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return DefaultWeights()
		}
		w := DefaultWeights()
		if raw.Length != nil {
			w.Length = *raw.Length
		}
		if raw.Match != nil {
			w.Match = *raw.Match
		}
		if raw.Similarity != nil {
			w.Similarity = *raw.Similarity
		}
		if raw.Latency != nil {
			w.Latency = *raw.Latency
		}
		return w
	}

	parts := strings.Split(s, ",")
	vals := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return DefaultWeights()
		}
		vals = append(vals, f)
	}
	w := DefaultWeights()
	fields := []*float64{&w.Length, &w.Match, &w.Similarity, &w.Latency}
	for i := 0; i < len(vals) && i < len(fields); i++ {
		*fields[i] = vals[i]
	}
	return w
}

// Normalized scales the weights to sum to 1. A zero sum yields the defaults.
func (w Weights) Normalized() Weights {
	total := w.Length + w.Match + w.Similarity + w.Latency
	if total == 0 {
		return DefaultWeights()
	}
	return Weights{
		Length:     w.Length / total,
		Match:      w.Match / total,
		Similarity: w.Similarity / total,
		Latency:    w.Latency / total,
	}
}

// Candidate is the slice of a provider response the scorer inspects.
type Candidate struct {
	Content   string
	LatencyMS float64
	Err       string
}

// Score returns the hybrid score for a candidate in [0,1]. It is pure:
// identical inputs always produce identical outputs, and it never touches
// adapter state.
func Score(prompt string, c Candidate, w Weights) float64 {
	w = w.Normalized()

	n := utf8.RuneCountInString(c.Content)
	if n > lengthCap {
		n = lengthCap
	}
	length := float64(n) / lengthCap

	match := 1.0
	if c.Err != "" {
		match = 0.0
	}

	sim := Similarity(prompt, c.Content)
	latency := 1.0 / (1.0 + math.Max(c.LatencyMS, 1.0))

	return length*w.Length + match*w.Match + sim*w.Similarity + latency*w.Latency
}

// Similarity is the symmetric longest-common-subsequence ratio of a and b
// over runes: 2·LCS/(|a|+|b|), in [0,1]. Either side empty scores zero.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	// Keep the inner dimension small; two rows of ints suffice.
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for _, cb := range rb {
		for i, ca := range ra {
			switch {
			case ca == cb:
				curr[i+1] = prev[i] + 1
			case prev[i+1] >= curr[i]:
				curr[i+1] = prev[i+1]
			default:
				curr[i+1] = curr[i]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(ra)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}
