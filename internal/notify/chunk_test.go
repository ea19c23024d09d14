package notify

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_Short(t *testing.T) {
	assert.Nil(t, Chunk("", 10))
	assert.Equal(t, []string{"hello"}, Chunk("hello", 10))
	assert.Equal(t, []string{"0123456789"}, Chunk("0123456789", 10))
}

func TestChunk_TableRowsStayWhole(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&b, "row %03d | okx | APE/USDT:USDT | 0.0400\n", i)
	}
	text := b.String()

	chunks := Chunk(text, MaxMessageLength)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, text, strings.Join(chunks, ""))

	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), MaxMessageLength)
		assert.True(t, strings.HasSuffix(c, "\n"), "часть должна заканчиваться целой строкой")
		assert.True(t, strings.HasPrefix(c, "row "))
	}
}

func TestChunk_LongLineSplitByRunes(t *testing.T) {
	text := "head\n" + strings.Repeat("ж", 25) + "\ntail"

	chunks := Chunk(text, 10)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
		assert.True(t, utf8.ValidString(c))
	}
	assert.Equal(t, "head\n", chunks[0])
}

func TestChunk_DefaultLimit(t *testing.T) {
	text := strings.Repeat("a\n", MaxMessageLength)
	chunks := Chunk(text, 0)
	assert.Len(t, chunks, 2)
}
