package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	assert.Zero(t, CountTokens(""))

	short := CountTokens("hello world")
	assert.Positive(t, short)

	long := CountTokens("hello world " + strings.Repeat("the quick brown fox jumps over the lazy dog ", 20))
	assert.Greater(t, long, short)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, estimateTokens("hi"))

	assert.Equal(t, 2, estimateTokens("hello world"))

	// Dense prose is dominated by the rune count.
	text := strings.Repeat("abcdefgh", 100)
	assert.Equal(t, 200, estimateTokens(text))

	// Whitespace-heavy text is dominated by the word count.
	words := strings.Repeat("a ", 50)
	assert.Equal(t, 50, estimateTokens(words))
}
