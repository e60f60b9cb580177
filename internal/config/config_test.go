package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-audio-service/internal/config"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "project.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const minimalConfig = `
[paths]
document_library_dir = "document_library"
audio_dir = "generated_audio"
base_logs_dir = "logs"
`

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, minimalConfig)

	cfg, err := config.Load(path, newTestLogger(t))

	require.NoError(t, err)
	require.Equal(t, config.DefaultTTSWorkers, cfg.Service.TTSWorkers)
	require.Equal(t, config.DefaultBackgroundWorkers, cfg.Service.BackgroundWorkers)
	require.Equal(t, config.DefaultRequestTimeoutSeconds, cfg.Service.RequestTimeoutSeconds)
	require.Equal(t, config.DefaultProviderTimeoutSecs, cfg.TTS.ProviderTimeoutSeconds)
	require.Equal(t, config.DefaultEmbeddingDimensions, cfg.Embedding.Dimensions)
	require.Equal(t, config.DefaultMaxChunkChars, cfg.Ingest.MaxChunkChars)
	require.Equal(t, config.DefaultOverlapChars, cfg.Ingest.OverlapChars)
	require.Equal(t, []string{".pdf"}, cfg.Ingest.AllowedExtensions)
	require.Equal(t, filepath.Join("generated_audio", "scripts"), cfg.Paths.ScriptsDir)
}

func TestLoad_MissingPathsFails(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "[service]\ntts_workers = 2\n")

	_, err := config.Load(path, newTestLogger(t))

	require.ErrorIs(t, err, config.ErrMissingPaths)
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"), newTestLogger(t))

	require.Error(t, err)
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, minimalConfig+`
[service]
tts_workers = 7
[tts]
provider = "edge"
provider_timeout_seconds = 15
`)

	cfg, err := config.Load(path, newTestLogger(t))

	require.NoError(t, err)
	require.Equal(t, 7, cfg.Service.TTSWorkers)
	require.Equal(t, "edge", cfg.TTS.Provider)
	require.Equal(t, 15, cfg.TTS.ProviderTimeoutSeconds)
}

func TestGetAPIKey_ResolvesThroughEnvironment(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[gemini]
api_key_variable = "PDF_AUDIO_TEST_KEY"
`)

	cfg, err := config.Load(path, newTestLogger(t))
	require.NoError(t, err)

	t.Setenv("PDF_AUDIO_TEST_KEY", "secret-value")

	require.Equal(t, "secret-value", cfg.GetAPIKey())
}

func TestForcedProvider_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[tts]
provider = "google"
`)

	cfg, err := config.Load(path, newTestLogger(t))
	require.NoError(t, err)

	require.Equal(t, "google", cfg.ForcedProvider())

	t.Setenv("TTS_PROVIDER", "offline")

	require.Equal(t, "offline", cfg.ForcedProvider())
}
