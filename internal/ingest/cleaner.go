package ingest

import (
	"bufio"
	"regexp"
	"strings"
)

const initialBufferSize = 64 * 1024

// Cleaner normalizes text extracted from PDF pages before chunking. PDF text
// layers carry their own artifacts: typographic ligatures, hyphenated line
// breaks, bare page-number lines and ragged spacing.
type Cleaner struct {
	reHyphenJoin    *regexp.Regexp
	rePunctOnlyLine *regexp.Regexp
	reMultiSpace    *regexp.Regexp
	rePageNumber    *regexp.Regexp
	charReplacer    *strings.Replacer
}

// NewCleaner creates a cleaner with all regular expressions precompiled.
func NewCleaner() *Cleaner {
	return &Cleaner{
		reHyphenJoin:    regexp.MustCompile(`([a-z])-\s*\n\s*([a-z])`),
		rePunctOnlyLine: regexp.MustCompile(`^\s*[\p{P}\s]+\s*$`),
		reMultiSpace:    regexp.MustCompile(`[ \t]{2,}`),
		rePageNumber:    regexp.MustCompile(`(?m)^\s*\d+\s*$`),
		charReplacer: strings.NewReplacer(
			"ﬁ", "fi",
			"ﬂ", "fl",
			"ﬀ", "ff",
			"ﬃ", "ffi",
			"ﬄ", "ffl",
			" ", " ",
			"\r", "",
		),
	}
}

// Clean normalizes one page of extracted text.
func (c *Cleaner) Clean(input string) string {
	if input == "" {
		return input
	}

	text := c.charReplacer.Replace(input)
	text = c.rePageNumber.ReplaceAllString(text, "")
	text = c.reHyphenJoin.ReplaceAllString(text, "$1$2")
	text = c.cleanLines(text)

	return strings.TrimSpace(text)
}

// cleanLines processes text line by line to remove empty and punctuation-only
// lines.
func (c *Cleaner) cleanLines(input string) string {
	var builder strings.Builder
	builder.Grow(len(input))

	scanner := c.createScanner(input)

	first := true

	for scanner.Scan() {
		line := c.processLine(scanner.Text())
		if line == "" {
			continue
		}

		if !first {
			builder.WriteByte('\n')
		}

		first = false

		builder.WriteString(line)
	}

	err := scanner.Err()
	if err != nil {
		return input
	}

	return builder.String()
}

func (c *Cleaner) createScanner(input string) *bufio.Scanner {
	scanner := bufio.NewScanner(strings.NewReader(input))

	const maxLineSize = 1024 * 1024

	buf := make([]byte, 0, initialBufferSize)
	scanner.Buffer(buf, maxLineSize)

	return scanner
}

func (c *Cleaner) processLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" || c.rePunctOnlyLine.MatchString(line) {
		return ""
	}

	return c.reMultiSpace.ReplaceAllString(line, " ")
}
