package tts_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-audio-service/internal/tts"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func TestClipBasename_DeterministicAndDiscriminating(t *testing.T) {
	t.Parallel()

	base := tts.ClipBasename("hello", "Kore", "gemini", "calm")

	require.Equal(t, base, tts.ClipBasename("hello", "Kore", "gemini", "calm"))
	require.Contains(t, base, "_gemini.mp3")
	require.Contains(t, base, "tts_")

	require.NotEqual(t, base, tts.ClipBasename("hello!", "Kore", "gemini", "calm"))
	require.NotEqual(t, base, tts.ClipBasename("hello", "Puck", "gemini", "calm"))
	require.NotEqual(t, base, tts.ClipBasename("hello", "Kore", "edge", "calm"))
	require.NotEqual(t, base, tts.ClipBasename("hello", "Kore", "gemini", "formal"))
}

func TestArtifactBasename_Deterministic(t *testing.T) {
	t.Parallel()

	base := tts.ArtifactBasename("script", "Kore", "Puck", "mux")

	require.Equal(t, base, tts.ArtifactBasename("script", "Kore", "Puck", "mux"))
	require.Contains(t, base, "mix_")
	require.NotEqual(t, base, tts.ArtifactBasename("other script", "Kore", "Puck", "mux"))
}

func TestClipCache_LookupMissAndDiskHit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cache, err := tts.NewClipCache(dir, newTestLogger(t))
	require.NoError(t, err)

	basename := tts.ClipBasename("text", "voice", "gemini", "")

	_, ok := cache.Lookup(basename)
	require.False(t, ok)

	// A file appearing on disk is a hit without any Store call: disk is
	// the source of truth.
	require.NoError(t, os.WriteFile(filepath.Join(dir, basename), []byte("mp3"), 0o600))

	path, ok := cache.Lookup(basename)
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, basename), path)
}

func TestClipCache_EmptyFileIsNotAHit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cache, err := tts.NewClipCache(dir, newTestLogger(t))
	require.NoError(t, err)

	basename := tts.ClipBasename("text", "voice", "gemini", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, basename), nil, 0o600))

	_, ok := cache.Lookup(basename)
	require.False(t, ok)
}

func TestClipCache_RebuildScansDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tts_abc123_gemini.mp3"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mix_def456_mux.mp3"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))

	cache, err := tts.NewClipCache(dir, newTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, cache.Rebuild())
	require.Equal(t, 2, cache.Len())

	_, ok := cache.Lookup("tts_abc123_gemini.mp3")
	require.True(t, ok)

	_, ok = cache.Lookup("mix_def456_mux.mp3")
	require.True(t, ok)
}
