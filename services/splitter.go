package services

import (
	"regexp"
	"strings"
	"unicode"
)

// SplitterOptions configure chunking. Sizes are in runes of cleaned text.
type SplitterOptions struct {
	MaxChunkSize int
	Overlap      int
	MinChunkSize int
}

func (o SplitterOptions) withDefaults() SplitterOptions {
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = 1000
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap >= o.MaxChunkSize {
		o.Overlap = o.MaxChunkSize / 4
	}
	if o.MinChunkSize < 0 {
		o.MinChunkSize = 0
	}
	return o
}

var (
	paragraphSplit = regexp.MustCompile(`\n{2,}`)
	sentenceEnd    = regexp.MustCompile(`([.!?])(\s+)`)
)

// SplitText breaks cleaned text into retrieval-sized chunks. Paragraph
// boundaries are preferred, then sentence boundaries, then a hard cut.
// Consecutive chunks share up to Overlap runes of trailing context. The
// result is deterministic for a given input and options.
func SplitText(text string, opts SplitterOptions) []string {
	opts = opts.withDefaults()

	text = normalizeText(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= opts.MaxChunkSize {
		return []string{text}
	}

	var pieces []string
	for _, para := range paragraphSplit.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len([]rune(para)) <= opts.MaxChunkSize {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitSentences(para, opts.MaxChunkSize)...)
	}

	chunks := assemble(pieces, opts)

	// A trailing fragment below the minimum merges into its predecessor
	// rather than becoming a low-signal chunk of its own.
	if n := len(chunks); n > 1 && len([]rune(chunks[n-1])) < opts.MinChunkSize {
		chunks[n-2] = chunks[n-2] + "\n\n" + chunks[n-1]
		chunks = chunks[:n-1]
	}
	return chunks
}

// assemble packs pieces into chunks up to MaxChunkSize, carrying overlap
// context between consecutive chunks. A buffer holding only carried overlap
// is never emitted as a chunk of its own.
func assemble(pieces []string, opts SplitterOptions) []string {
	var chunks []string
	cur := ""
	curLen := 0

	for _, piece := range pieces {
		pieceLen := len([]rune(piece))
		if curLen > 0 && curLen+pieceLen+2 > opts.MaxChunkSize {
			chunks = append(chunks, cur)
			cur = ""
			curLen = 0
			if opts.Overlap > 0 {
				// Carry overlap only when it leaves room for the next piece.
				tail := overlapTail(chunks[len(chunks)-1], opts.Overlap)
				if tail != "" && len([]rune(tail))+pieceLen+2 <= opts.MaxChunkSize {
					cur = tail
					curLen = len([]rune(tail))
				}
			}
		}
		if curLen > 0 {
			cur += "\n\n" + piece
			curLen += 2 + pieceLen
		} else {
			cur = piece
			curLen = pieceLen
		}
	}
	if curLen > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// splitSentences breaks an oversized paragraph at sentence boundaries,
// hard-cutting any single sentence longer than maxSize.
func splitSentences(para string, maxSize int) []string {
	marked := sentenceEnd.ReplaceAllString(para, "$1\x00")
	var out []string
	for _, sentence := range strings.Split(marked, "\x00") {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		runes := []rune(sentence)
		for len(runes) > maxSize {
			cut := wordBoundaryBefore(runes, maxSize)
			out = append(out, strings.TrimSpace(string(runes[:cut])))
			runes = runes[cut:]
		}
		if len(runes) > 0 {
			out = append(out, strings.TrimSpace(string(runes)))
		}
	}
	return out
}

// overlapTail returns up to n trailing runes of chunk, extended left to the
// nearest word boundary so overlap never begins mid-word.
func overlapTail(chunk string, n int) string {
	runes := []rune(chunk)
	if len(runes) <= n {
		return chunk
	}
	start := len(runes) - n
	for start > 0 && !unicode.IsSpace(runes[start-1]) {
		start--
	}
	if start == 0 {
		start = len(runes) - n
	}
	return strings.TrimSpace(string(runes[start:]))
}

// wordBoundaryBefore finds the last space at or before limit, falling back to
// a hard cut when the text has no spaces.
func wordBoundaryBefore(runes []rune, limit int) int {
	for i := limit; i > limit/2; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return limit
}

// normalizeText collapses line endings and trims degenerate whitespace while
// preserving paragraph structure.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
