package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitText_RespectsChunkSize(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40)
	chunks := SplitText(text, 100, 20)

	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 140, "a chunk should stay close to the requested size even with overlap folded in")
	}
}

func TestSplitText_ShortTextIsSingleChunk(t *testing.T) {
	chunks := SplitText("hello world", 500, 50)
	assert.Equal(t, []string{"hello world"}, chunks)
}

func TestSplitText_EmptyChunkSizeReturnsWholeText(t *testing.T) {
	chunks := SplitText("hello", 0, 0)
	assert.Equal(t, []string{"hello"}, chunks)
}
