package script

import (
	"fmt"
	"strings"

	"github.com/book-expert/pdf-audio-service/internal/shared"
)

// Spoken-length targets per expressiveness setting, passed to the model as a
// hard cap on script length.
const (
	lengthBrief    = "Keep the script short: 15-45 seconds of spoken audio."
	lengthStandard = "Target 1-2 minutes of spoken audio."
	lengthExpanded = "Target 2-4 minutes of spoken audio, with room for asides."
)

// BuildPrompt constructs the synthesis prompt. The model is pinned to the
// source material and, for dialogue, to exactly two labeled speakers.
func BuildPrompt(sourceText string, mode shared.ScriptMode, hints shared.StyleHints) string {
	var builder strings.Builder

	builder.WriteString("You are an expert audio director and narrator. ")
	builder.WriteString(
		"Convert the source material below into a script for text-to-speech generation.\n\n",
	)

	builder.WriteString("### RULES:\n")
	builder.WriteString("1. Stay grounded in the source material. Do not invent facts.\n")
	builder.WriteString("2. Conversational spoken register: no lists, no URLs, no markdown.\n")

	if mode == shared.ModeDialogue {
		writeDialogueRules(&builder, hints)
	} else {
		builder.WriteString("3. Write flowing narration prose for a single narrator.\n")
	}

	writeStyleDirectives(&builder, hints)

	builder.WriteString("\n### SOURCE MATERIAL:\n")
	builder.WriteString(sourceText)

	return builder.String()
}

func writeDialogueRules(builder *strings.Builder, hints shared.StyleHints) {
	builder.WriteString("3. Write a dialogue between exactly two speakers. ")
	builder.WriteString("Label every line \"Speaker 1:\" or \"Speaker 2:\" at line start.\n")
	builder.WriteString(
		"4. Alternate naturally, with short reactions and interruptions where they help.\n",
	)

	if hints.Podcast {
		builder.WriteString(
			"5. Frame it as a podcast segment: a brief welcome, then the substance, then a sign-off.\n",
		)
	}
}

func writeStyleDirectives(builder *strings.Builder, hints shared.StyleHints) {
	builder.WriteString("\n### DELIVERY:\n")

	if hints.Accent != "" {
		fmt.Fprintf(builder, "- Accent/idiom: %s.\n", hints.Accent)
	}

	if hints.Style != "" {
		fmt.Fprintf(builder, "- Style: %s.\n", hints.Style)
	}

	builder.WriteString("- ")
	builder.WriteString(lengthDirective(hints.Expressiveness))
	builder.WriteByte('\n')
}

func lengthDirective(expressiveness string) string {
	switch strings.ToLower(expressiveness) {
	case "expanded", "high":
		return lengthExpanded
	case "standard", "medium":
		return lengthStandard
	default:
		return lengthBrief
	}
}
