package llm

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the tokenizer family shared by the chat models this
// runtime targets. Close enough for budget accounting on the rest.
const encodingName = "cl100k_base"

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens measures text against the cl100k_base vocabulary. The BPE
// ranks load lazily and may need a network fetch on first use; when that
// fails the heuristic estimate stands in so budget accounting never
// blocks a run.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return estimateTokens(text)
	}
	return len(encoding.Encode(text, nil, nil))
}

// estimateTokens approximates the count as one token per four runes,
// bounded below by the word count. English prose lands close to the real
// tokenizer; code skews denser but stays the same order of magnitude.
func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text) / 4
	if words := len(strings.Fields(text)); words > n {
		n = words
	}
	if n < 1 {
		n = 1
	}
	return n
}
