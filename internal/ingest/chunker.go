package ingest

import (
	"regexp"
	"strings"
	"unicode"
)

// Chunker splits page text into bounded, overlapping chunks. Splits prefer
// sentence boundaries so retrieval never sees a fragment cut mid-sentence
// when a boundary exists near the target size.
type Chunker struct {
	maxChars int
	overlap  int
}

var reWhitespace = regexp.MustCompile(`\s+`)

var reParagraphBreak = regexp.MustCompile(`\n\s*\n+`)

// NewChunker creates a chunker targeting maxChars per chunk with overlap
// characters of context carried across adjacent chunks.
func NewChunker(maxChars, overlap int) *Chunker {
	// Splits land past half the window, so the overlap must stay below
	// half the chunk size for the cursor to always advance.
	if overlap*2 >= maxChars {
		overlap = maxChars / 4
	}

	return &Chunker{maxChars: maxChars, overlap: overlap}
}

// SplitParagraphs splits text into paragraphs on blank lines.
func SplitParagraphs(text string) []string {
	parts := reParagraphBreak.Split(text, -1)

	paragraphs := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			paragraphs = append(paragraphs, part)
		}
	}

	return paragraphs
}

// Chunk splits one paragraph into overlapping chunks. Whitespace is collapsed
// first so offsets are stable across extractors.
func (c *Chunker) Chunk(text string) []string {
	s := strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
	if s == "" {
		return nil
	}

	var chunks []string

	n := len(s)
	start := 0

	for start < n {
		end := start + c.maxChars
		if end > n {
			end = n
		} else {
			end = start + c.splitPoint(s[start:end])
		}

		chunk := strings.TrimSpace(s[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= n {
			break
		}

		start = end - c.overlap
		if start < 0 {
			start = 0
		}
	}

	return chunks
}

// splitPoint finds the cut position within a full-size window, preferring a
// sentence boundary, then a clause boundary, then a space. A boundary is only
// taken when it sits past half the window so chunks stay near the target
// size.
func (c *Chunker) splitPoint(window string) int {
	candidates := []int{
		strings.LastIndex(window, ". "),
		strings.LastIndex(window, "? "),
		strings.LastIndex(window, "! "),
	}

	cut := maxIndex(candidates)
	if cut == -1 || cut <= len(window)/2 {
		cut = maxIndex([]int{
			strings.LastIndex(window, ", "),
			strings.LastIndex(window, " "),
		})
	}

	if cut == -1 || cut <= len(window)/2 {
		return len(window)
	}

	return cut + 1
}

func maxIndex(values []int) int {
	best := -1

	for _, v := range values {
		if v > best {
			best = v
		}
	}

	return best
}

// SectionTitle derives a short label for a chunk from its leading sentence.
// Only a short opening that starts with an uppercase letter qualifies;
// everything else yields "".
func SectionTitle(text string) string {
	const maxTitleLen = 80

	head := text
	if idx := strings.IndexAny(head, ".?!\n"); idx != -1 {
		head = head[:idx]
	}

	head = strings.TrimSpace(head)
	if head == "" || len(head) > maxTitleLen {
		return ""
	}

	first := []rune(head)[0]
	if !unicode.IsUpper(first) {
		return ""
	}

	return head
}
