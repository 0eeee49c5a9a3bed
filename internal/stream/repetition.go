package stream

import (
	"strings"
)

// fillerPhrases maps stall phrases to how many occurrences are
// tolerated before the generation is considered stuck. Models caught
// in a loop tend to restate these endlessly instead of producing an
// answer.
var fillerPhrases = map[string]int{
	"let me":            8,
	"i'll":              8,
	"i will":            8,
	"okay,":             6,
	"sure,":             6,
	"to summarize":      3,
	"in summary":        3,
	"in conclusion":     3,
	"as mentioned":      4,
	"as i mentioned":    3,
	"i apologize":       3,
	"let me check":      4,
	"checking":          6,
	"one moment":        3,
	"please wait":       3,
	"processing":        5,
	"based on the data": 4,
}

// repetitionWindow is how many recent fragments participate in the
// pairwise overlap check.
const repetitionWindow = 10

// overlapThreshold is the character-overlap ratio above which two
// fragments count as repeats of each other.
const overlapThreshold = 0.8

// repetitionDetector watches generated fragments for signs the model
// is looping: filler phrases past their budget, or near-identical
// fragments repeating within a sliding window.
type repetitionDetector struct {
	fragments []string
	combined  strings.Builder
}

func newRepetitionDetector() *repetitionDetector {
	return &repetitionDetector{}
}

// Observe records one fragment and reports whether repetition has
// tripped. A tripped detector means generation should stop and the
// turn should synthesize from whatever is available.
func (d *repetitionDetector) Observe(fragment string) bool {
	if strings.TrimSpace(fragment) == "" {
		return false
	}
	d.combined.WriteString(fragment)
	d.fragments = append(d.fragments, fragment)
	if len(d.fragments) > repetitionWindow {
		d.fragments = d.fragments[len(d.fragments)-repetitionWindow:]
	}

	// Check 1: filler phrases past their per-phrase budget in the
	// recent fragments.
	recent := strings.ToLower(strings.Join(d.fragments, ""))
	for phrase, limit := range fillerPhrases {
		if strings.Count(recent, phrase) > limit {
			return true
		}
	}

	// Check 2: near-identical fragments in the window. Require a
	// minimum length so short common words don't trip it.
	if len(fragment) >= 20 {
		current := strings.ToLower(fragment)
		repeats := 0
		for _, prev := range d.fragments[:len(d.fragments)-1] {
			if len(prev) < 20 {
				continue
			}
			if charOverlap(current, strings.ToLower(prev)) >= overlapThreshold {
				repeats++
			}
		}
		if repeats >= 2 {
			return true
		}
	}

	// Check 3: the combined text, at double the per-phrase budget.
	// Catches slow loops that never concentrate inside the window.
	combined := strings.ToLower(d.combined.String())
	for phrase, limit := range fillerPhrases {
		if strings.Count(combined, phrase) > limit*2 {
			return true
		}
	}

	return false
}

// charOverlap computes the ratio of shared character occurrences
// between two strings, relative to the longer one. 1.0 means the same
// multiset of characters.
func charOverlap(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	counts := map[rune]int{}
	la := 0
	for _, r := range a {
		counts[r]++
		la++
	}
	lb := 0
	shared := 0
	for _, r := range b {
		lb++
		if counts[r] > 0 {
			counts[r]--
			shared++
		}
	}
	longer := la
	if lb > longer {
		longer = lb
	}
	return float64(shared) / float64(longer)
}
