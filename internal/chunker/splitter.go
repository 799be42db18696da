// Package chunker splits raw text into bounded, contiguous passages.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the default budget in characters per chunk.
const DefaultChunkSize = 500

// defaultSeparators are tried in order: paragraph, line, sentence, word.
// When none of them yields small enough pieces the splitter falls back to
// hard character cuts.
var defaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Splitter breaks text into non-overlapping segments of at most chunkSize
// characters. Separators stay attached to the piece they end, so joining
// the segments reproduces the input exactly.
type Splitter struct {
	chunkSize  int
	separators []string
}

type Option func(*Splitter)

// WithChunkSize sets the per-chunk budget in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithSeparators overrides the boundary preference order.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) {
		s.separators = seps
	}
}

func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		separators: defaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Split returns the segments of text. Whitespace-only input yields none.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= s.chunkSize {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardCut(text, s.chunkSize)
	}

	var (
		out     []string
		current strings.Builder
		curLen  int
	)
	flush := func() {
		if curLen > 0 {
			out = append(out, current.String())
			current.Reset()
			curLen = 0
		}
	}

	for _, piece := range splitKeep(text, seps[0]) {
		n := utf8.RuneCountInString(piece)
		switch {
		case n > s.chunkSize:
			flush()
			out = append(out, s.split(piece, seps[1:])...)
		case curLen+n <= s.chunkSize:
			current.WriteString(piece)
			curLen += n
		default:
			flush()
			current.WriteString(piece)
			curLen = n
		}
	}
	flush()
	return out
}

// splitKeep splits after each occurrence of sep, keeping sep on the left.
func splitKeep(text, sep string) []string {
	var pieces []string
	for {
		i := strings.Index(text, sep)
		if i < 0 {
			break
		}
		pieces = append(pieces, text[:i+len(sep)])
		text = text[i+len(sep):]
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}

func hardCut(text string, size int) []string {
	var out []string
	for text != "" {
		end, count := 0, 0
		for end < len(text) && count < size {
			_, w := utf8.DecodeRuneInString(text[end:])
			end += w
			count++
		}
		out = append(out, text[:end])
		text = text[end:]
	}
	return out
}
