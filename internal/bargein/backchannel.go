package bargein

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// backchannelFilter decides whether a partial transcript is a pure
// acknowledgement ("yeah", "uh-huh") rather than an interruption. Matching is
// fuzzy: transcribers mangle short vocalisations, so each word is compared by
// exact form, Levenshtein distance ≤ 1, and Double Metaphone phonetic
// equality.
type backchannelFilter struct {
	words []string
}

func newBackchannelFilter(words []string) *backchannelFilter {
	normalized := make([]string, 0, len(words))
	for _, w := range words {
		if n := normalizeWord(w); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &backchannelFilter{words: normalized}
}

// IsBackchannel reports whether every word of text matches the configured
// acknowledgement list. "yeah yeah" suppresses; "yeah but wait" does not.
func (f *backchannelFilter) IsBackchannel(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	for _, field := range fields {
		if !f.matchesWord(normalizeWord(field)) {
			return false
		}
	}
	return true
}

func (f *backchannelFilter) matchesWord(word string) bool {
	if word == "" {
		return false
	}
	for _, known := range f.words {
		if word == known {
			return true
		}
		if matchr.Levenshtein(word, known) <= 1 {
			return true
		}
		wp, ws := matchr.DoubleMetaphone(word)
		kp, ks := matchr.DoubleMetaphone(known)
		if wp != "" && (wp == kp || (ks != "" && wp == ks) || (ws != "" && ws == kp)) {
			return true
		}
	}
	return false
}

func normalizeWord(w string) string {
	return strings.Trim(strings.ToLower(w), ".,!?;:…\"'")
}
