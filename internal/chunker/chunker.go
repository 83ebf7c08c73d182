// Package chunker splits cleaned page text into sentence-aligned segments
// bounded by a character limit.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1024

// Chunker packs sentences greedily into chunks of at most size characters.
type Chunker struct {
	size int
}

// Option configures the Chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int {
	return c.size
}

// Chunk splits text into chunks. A sentence contained in any of fullTexts is
// treated as already indexed and skipped. A single sentence longer than the
// limit becomes its own chunk.
func (c *Chunker) Chunk(text string, fullTexts []string) []string {
	var (
		chunks []string
		buf    strings.Builder
		bufLen int
	)
	for _, sentence := range Sentences(text) {
		if seen(sentence, fullTexts) {
			continue
		}
		n := utf8.RuneCountInString(sentence)
		switch {
		case bufLen == 0:
			buf.WriteString(sentence)
			bufLen = n
		case bufLen+1+n <= c.size:
			buf.WriteByte(' ')
			buf.WriteString(sentence)
			bufLen += 1 + n
		default:
			chunks = append(chunks, buf.String())
			buf.Reset()
			buf.WriteString(sentence)
			bufLen = n
		}
	}
	if bufLen > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}

// Sentences splits text after '.', '!' or '?' when followed by whitespace.
// Surrounding whitespace is trimmed and empty sentences are dropped.
func Sentences(text string) []string {
	var sentences []string
	start := 0
	prevTerminal := false
	for i, r := range text {
		if prevTerminal && unicode.IsSpace(r) {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				sentences = append(sentences, s)
			}
			start = i
		}
		prevTerminal = r == '.' || r == '!' || r == '?'
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func seen(sentence string, fullTexts []string) bool {
	for _, t := range fullTexts {
		if strings.Contains(t, sentence) {
			return true
		}
	}
	return false
}
