package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSentences(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single without terminal", "hello world", []string{"hello world"}},
		{"mixed punctuation", "One. Two! Three? Four", []string{"One.", "Two!", "Three?", "Four"}},
		{"extra whitespace", "  One.   Two.\n\tThree.  ", []string{"One.", "Two.", "Three."}},
		{"no split inside tokens", "Version 1.2 is out. Visit example.com today.", []string{"Version 1.2 is out.", "Visit example.com today."}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Sentences(tc.in))
		})
	}
}

func TestChunkEmptyInput(t *testing.T) {
	t.Parallel()
	require.Empty(t, New().Chunk("", nil))
	require.Empty(t, New().Chunk("   \n ", nil))
}

func TestChunkPacksGreedily(t *testing.T) {
	t.Parallel()

	c := New(WithChunkSize(20))
	got := c.Chunk("Aaaa bbbb. Cccc. Dddd eeee ffff. Gg.", nil)
	require.Equal(t, []string{"Aaaa bbbb. Cccc.", "Dddd eeee ffff. Gg."}, got)
}

func TestChunkOverlongSentenceKept(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 50) + "."
	got := New(WithChunkSize(10)).Chunk("Short. "+long+" Tail.", nil)
	require.Equal(t, []string{"Short.", long, "Tail."}, got)
}

func TestChunkSkipsSentencesAlreadyStored(t *testing.T) {
	t.Parallel()

	stored := []string{"Welcome to the store. We sell shoes. Boots too."}
	got := New().Chunk("Welcome to the store. Free shipping on all orders. We sell shoes.", stored)
	require.Equal(t, []string{"Free shipping on all orders."}, got)
}

func TestChunkSizeBoundAndReconstruction(t *testing.T) {
	t.Parallel()

	text := "The quick brown fox jumps. Over the lazy dog! Then it rests? " +
		"Ünïcödé sentences count runes. Another line here. And one more for luck. " +
		"Short. Tiny. A somewhat longer sentence to close out the paragraph."
	const limit = 40
	chunks := New(WithChunkSize(limit)).Chunk(text, nil)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		if len(Sentences(c)) > 1 {
			require.LessOrEqual(t, utf8.RuneCountInString(c), limit, c)
		}
	}
	require.Equal(t, Sentences(text), Sentences(strings.Join(chunks, " ")))
}

func TestDefaultSize(t *testing.T) {
	t.Parallel()
	require.Equal(t, DefaultChunkSize, New().Size())
	require.Equal(t, DefaultChunkSize, New(WithChunkSize(-1)).Size())
}
