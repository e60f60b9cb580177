package ingest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-audio-service/internal/ingest"
)

func TestNewCleaner(t *testing.T) {
	t.Parallel()

	require.NotNil(t, ingest.NewCleaner())
}

func TestClean(t *testing.T) {
	t.Parallel()

	cleaner := ingest.NewCleaner()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty input returns empty",
			input:    "",
			expected: "",
		},
		{
			name:     "simple text unchanged",
			input:    "Hello World",
			expected: "Hello World",
		},
		{
			name:     "ligatures expanded",
			input:    "eﬃcient ﬂow of traﬃc",
			expected: "efficient flow of traffic",
		},
		{
			name:     "hyphenated line break joined",
			input:    "photo-\nsynthesis",
			expected: "photosynthesis",
		},
		{
			name:     "bare page number line dropped",
			input:    "Some text.\n42\nMore text.",
			expected: "Some text.\nMore text.",
		},
		{
			name:     "whitespace normalization",
			input:    "Hello    World",
			expected: "Hello World",
		},
		{
			name:     "punctuation-only lines dropped",
			input:    "Real content.\n. . .\nMore content.",
			expected: "Real content.\nMore content.",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, testCase.expected, cleaner.Clean(testCase.input))
		})
	}
}
