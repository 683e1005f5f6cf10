// Package tone holds the data-driven per-slot-type word count targets and
// forbidden-term lists that both script generation (C6) validates against
// and analytics aggregates over. Kept as in-source Go map literals rather
// than an external config format — the teacher keeps equivalent style
// guidance (buildSegmentSystemPrompt's per-inputType switch) as Go code,
// not data files.
package tone

// WordCountTargets is keyed by segment slot_type; validation accepts
// scripts within ±20% of the target (see WithinTolerance).
var WordCountTargets = map[string]int{
	"news":       200,
	"culture":    300,
	"interview":  400,
	"station_id": 50,
	"weather":    150,
	"tech":       250,
}

// DefaultWordCountTarget is used for slot types with no specific entry.
const DefaultWordCountTarget = 200

// toleranceFraction is the ±20% band around a slot type's target word count.
const toleranceFraction = 0.2

func TargetWordCount(slotType string) int {
	if t, ok := WordCountTargets[slotType]; ok {
		return t
	}
	return DefaultWordCountTarget
}

// WithinTolerance reports whether count falls within ±20% of slotType's target.
func WithinTolerance(slotType string, count int) bool {
	target := TargetWordCount(slotType)
	lo := float64(target) * (1 - toleranceFraction)
	hi := float64(target) * (1 + toleranceFraction)
	return float64(count) >= lo && float64(count) <= hi
}

// Score computes a 0-100 acceptability score from a violation count and
// word-count compliance, matching the §6 TONE_MIN_ACCEPTABLE_SCORE gate.
func Score(forbiddenCount int, withinWordCount bool) int {
	score := 100 - forbiddenCount*20
	if !withinWordCount {
		score -= 15
	}
	if score < 0 {
		score = 0
	}
	return score
}
