package script

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/book-expert/pdf-audio-service/internal/shared"
)

// ErrMalformedScript indicates a dialogue response without two distinct
// speakers after label normalization.
var ErrMalformedScript = errors.New("malformed dialogue script")

var reSpeakerLine = regexp.MustCompile(`(?i)^(speaker\s*[12]|speaker\s*[ab]|alex|jordan|a|b)\s*:\s*(.+)$`)

// normalizeLabel maps the labels models actually produce onto the canonical
// two-speaker set.
func normalizeLabel(raw string) string {
	label := strings.ToLower(strings.Join(strings.Fields(raw), " "))

	switch label {
	case "speaker 1", "speaker1", "speaker a", "speakera", "alex", "a":
		return shared.SpeakerOne
	default:
		return shared.SpeakerTwo
	}
}

// ParseDialogue scans an LLM response line by line into labeled dialogue
// lines. Unmatched non-empty lines continue the previous line's text, or are
// dropped when no line has been established yet. The parser is total: every
// input yields either a script or ErrMalformedScript.
func ParseDialogue(response string) (*shared.Script, error) {
	var lines []shared.Line

	for _, rawLine := range strings.Split(response, "\n") {
		rawLine = strings.TrimSpace(rawLine)
		if rawLine == "" {
			continue
		}

		match := reSpeakerLine.FindStringSubmatch(rawLine)
		if match != nil {
			lines = append(lines, shared.Line{
				Speaker: normalizeLabel(match[1]),
				Text:    strings.TrimSpace(match[2]),
			})

			continue
		}

		// Continuation of the previous line's text.
		if len(lines) > 0 {
			last := &lines[len(lines)-1]
			last.Text = last.Text + " " + rawLine
		}
	}

	distinct := make(map[string]bool, 2)

	for _, line := range lines {
		distinct[line.Speaker] = true
	}

	if len(distinct) < 2 {
		return nil, fmt.Errorf(
			"%w: %d distinct speakers after parsing %d lines",
			ErrMalformedScript,
			len(distinct),
			len(lines),
		)
	}

	return &shared.Script{
		Mode:  shared.ModeDialogue,
		Text:  joinLines(lines),
		Lines: lines,
	}, nil
}

func joinLines(lines []shared.Line) string {
	parts := make([]string, 0, len(lines))

	for _, line := range lines {
		parts = append(parts, line.Text)
	}

	return strings.Join(parts, "\n")
}
