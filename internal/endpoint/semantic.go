package endpoint

import "strings"

// Words that signal the speaker intends to continue. A partial ending on one
// of these is never treated as a finished thought, punctuation or not.
var continuationWords = map[string]bool{
	"and": true, "but": true, "or": true, "so": true, "because": true,
	"if": true, "when": true, "while": true, "then": true, "with": true,
	"to": true, "the": true, "a": true, "an": true, "my": true,
	"um": true, "uh": true, "uhm": true, "like": true, "basically": true,
	"actually": true, "also": true, "plus": true,
}

// Question openers. A sentence shaped as a question reads as complete even
// when the transcriber dropped the question mark.
var interrogativeOpeners = map[string]bool{
	"what": true, "where": true, "when": true, "who": true, "whom": true,
	"whose": true, "which": true, "why": true, "how": true,
	"is": true, "are": true, "was": true, "were": true, "am": true,
	"do": true, "does": true, "did": true, "can": true, "could": true,
	"will": true, "would": true, "should": true, "shall": true, "may": true,
	"have": true, "has": true,
}

// Imperative openers common in spoken assistant commands.
var imperativeOpeners = map[string]bool{
	"tell": true, "give": true, "show": true, "play": true, "stop": true,
	"open": true, "close": true, "turn": true, "set": true, "find": true,
	"search": true, "call": true, "read": true, "start": true, "pause": true,
	"resume": true, "skip": true, "repeat": true, "remind": true, "check": true,
	"get": true, "look": true, "send": true, "add": true, "remove": true,
	"cancel": true, "book": true, "translate": true, "explain": true,
}

// SemanticallyComplete reports whether text reads as a finished utterance.
// Heuristic, not a parser: terminal punctuation, question shape, or
// imperative shape count as complete; a trailing continuation word always
// counts as incomplete.
func SemanticallyComplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	words := strings.Fields(strings.ToLower(trimmed))
	last := strings.Trim(words[len(words)-1], ".,!?;:…\"'")
	if continuationWords[last] {
		return false
	}

	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}

	first := strings.Trim(words[0], ".,!?;:…\"'")
	if interrogativeOpeners[first] && len(words) >= 3 {
		return true
	}
	if imperativeOpeners[first] && len(words) >= 2 {
		return true
	}
	return false
}
