package transport

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplitTextShort(t *testing.T) {
	assert.Equal(t, []string{"hello"}, SplitText("hello", 10))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("aaaa\n", 10) // 50 runes
	chunks := SplitText(s, 12)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 12)
		assert.False(t, strings.HasPrefix(c, "\n"))
	}
	assert.Equal(t, strings.TrimRight(s, "\n"), strings.Join(chunks, "\n"))
}

func TestSplitTextCountsRunes(t *testing.T) {
	s := strings.Repeat("я", 9000)
	chunks := SplitText(s, TextLimit)
	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), TextLimit)
	}
}
