// Package dedup detects replies that repeat the previous assistant reply.
package dedup

import (
	"regexp"
	"strings"

	"github.com/entrhq/parley/pkg/types"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	DefaultThreshold   = 0.9  // DefaultThreshold is the similarity ratio above which replies count as duplicates.
	DefaultTemperature = 0.45 // DefaultTemperature is used for the forced regeneration.
)

var (
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s_]+`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Normalize case-folds s, removes punctuation and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = punctuation.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Ratio returns the similarity of the normalized forms of a and b in [0, 1].
func Ratio(a, b string) float64 {
	m := difflib.NewMatcher(runes(Normalize(a)), runes(Normalize(b)))
	return m.Ratio()
}

// IsSimilar reports whether a and b are near-duplicates, i.e. their
// similarity ratio exceeds threshold.
func IsSimilar(a, b string, threshold float64) bool {
	return Ratio(a, b) > threshold
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Guard decides when a reply must be regenerated.
type Guard struct {
	Threshold   float64
	Temperature float64
}

// NewGuard returns a Guard with the given threshold and regeneration temperature.
// Zero values select the defaults.
func NewGuard(threshold, temperature float64) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	return &Guard{Threshold: threshold, Temperature: temperature}
}

// ShouldRegenerate reports whether reply repeats the session's last reply.
// The orchestrator calls it once per chunk, so a forced regeneration is
// never checked again.
func (g *Guard) ShouldRegenerate(meta types.SessionMeta, reply string) bool {
	if meta.LastAssistantReply == "" {
		return false
	}
	return IsSimilar(reply, meta.LastAssistantReply, g.Threshold)
}

// Params returns p with the regeneration temperature applied.
func (g *Guard) Params(p types.GenerationParams) types.GenerationParams {
	return p.WithTemperature(g.Temperature)
}
