// Package tokenutil counts and trims text in model tokens. Every prompt
// budget decision runs through it: context blocks, memory snippets, and
// document chunks are measured here before they are allowed into a prompt.
//
// Counting uses the cl100k_base encoding. When the encoding cannot be
// loaded the package degrades to a rune-and-word heuristic rather than
// failing, so budgets stay approximate but enforceable offline.
package tokenutil

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func init() {
	// Warm the encoding at startup so the first budget check is not the
	// one paying the load cost.
	loadEncoding()
}

func loadEncoding() {
	once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
}

// CountTokens returns the cl100k_base token count of text, or the
// EstimateFast heuristic when the encoding is unavailable.
func CountTokens(text string) int {
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast approximates a token count as max(runes/4, words). It never
// returns 0 for non-blank text, so a budget check cannot admit an item for
// free.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// TruncateToTokens shortens text to at most maxTokens tokens, marking the
// cut with an ellipsis. maxTokens <= 0 disables the limit.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if encoding != nil {
		tokens := encoding.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return encoding.Decode(tokens[:maxTokens]) + "..."
	}
	runes := []rune(text)
	if limit := maxTokens * 4; limit < len(runes) {
		return string(runes[:limit]) + "..."
	}
	return text
}
