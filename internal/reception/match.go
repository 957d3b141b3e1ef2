package reception

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// matchName finds the candidate full name most phonetically similar to the
// spoken input. Voice transcription regularly mangles proper names ("Jon Dough"
// for "John Doe"), so exact and substring matching alone leaves too many
// verification attempts dangling.
//
// Two stages: Double Metaphone codes computed per word filter the candidates
// to those sharing at least one code with the input, then Jaro-Winkler
// similarity ranks them (threshold 0.70). When no candidate passes the
// phonetic filter, a pure similarity pass with a stricter threshold (0.85)
// catches near-miss spellings that encode differently.
func matchName(spoken string, candidates []string) (name string, confidence float64, ok bool) {
	spoken = strings.ToLower(strings.TrimSpace(spoken))
	if spoken == "" || len(candidates) == 0 {
		return "", 0, false
	}
	spokenTokens := strings.Fields(spoken)
	spokenCodes := metaphoneCodes(spokenTokens)

	var bestName string
	var bestScore float64
	var bestPhonetic bool

	for _, cand := range candidates {
		candLower := strings.ToLower(strings.TrimSpace(cand))
		if candLower == "" {
			continue
		}
		candTokens := strings.Fields(candLower)

		phonetic := codesOverlap(spokenCodes, metaphoneCodes(candTokens))
		score := similarity(spoken, spokenTokens, candLower, candTokens)

		switch {
		case phonetic && score >= phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestName, bestScore, bestPhonetic = cand, score, true
			}
		case !phonetic && !bestPhonetic:
			if score >= fuzzyThreshold && score > bestScore {
				bestName, bestScore = cand, score
			}
		}
	}

	if bestName == "" {
		return "", 0, false
	}
	return bestName, bestScore, true
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score between the spoken input and the
// candidate: full strings, space-stripped strings, and the best pairwise
// token score. The pairwise pass handles a caller giving only a first or
// last name.
func similarity(spoken string, spokenTokens []string, cand string, candTokens []string) float64 {
	score := matchr.JaroWinkler(spoken, cand, false)

	if len(spokenTokens) > 1 || len(candTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(spokenTokens, ""), strings.Join(candTokens, ""), false)
		if joined > score {
			score = joined
		}
	}

	for _, st := range spokenTokens {
		for _, ct := range candTokens {
			if s := matchr.JaroWinkler(st, ct, false); s > score {
				score = s
			}
		}
	}
	return score
}
