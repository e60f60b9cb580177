package script_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-audio-service/internal/script"
	"github.com/book-expert/pdf-audio-service/internal/shared"
)

func TestKeyFor_Deterministic(t *testing.T) {
	t.Parallel()

	hints := shared.StyleHints{Podcast: true, TwoSpeakers: true, Accent: "british"}

	first := script.KeyFor("Some source text.", shared.ModeDialogue, hints)
	second := script.KeyFor("Some source text.", shared.ModeDialogue, hints)

	require.Equal(t, first, second)
}

func TestKeyFor_WhitespaceInsensitive(t *testing.T) {
	t.Parallel()

	first := script.KeyFor("Some  source\n\ttext.", shared.ModeNarration, shared.StyleHints{})
	second := script.KeyFor("Some source text.", shared.ModeNarration, shared.StyleHints{})

	require.Equal(t, first, second)
}

func TestKeyFor_FlagSensitivity(t *testing.T) {
	t.Parallel()

	base := script.KeyFor("text", shared.ModeNarration, shared.StyleHints{})

	variants := []shared.StyleHints{
		{Podcast: true},
		{TwoSpeakers: true},
		{EntirePDF: true},
		{Accent: "irish"},
		{Style: "formal"},
		{Expressiveness: "expanded"},
	}

	for _, hints := range variants {
		require.NotEqual(t, base, script.KeyFor("text", shared.ModeNarration, hints))
	}

	require.NotEqual(t, base, script.KeyFor("text", shared.ModeDialogue, shared.StyleHints{}))
}

func TestKeyFor_PrefixBounded(t *testing.T) {
	t.Parallel()

	// Inputs identical in their first thousand characters share a key.
	prefix := strings.Repeat("a", 1000)

	first := script.KeyFor(prefix+" tail one", shared.ModeNarration, shared.StyleHints{})
	second := script.KeyFor(prefix+" different tail", shared.ModeNarration, shared.StyleHints{})

	require.Equal(t, first, second)

	// A change inside the prefix changes the key.
	third := script.KeyFor("b"+prefix, shared.ModeNarration, shared.StyleHints{})
	require.NotEqual(t, first, third)
}
