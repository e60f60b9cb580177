// Package config loads the service configuration from project.toml and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFilename is the config file looked up when no path is given.
const DefaultConfigFilename = "project.toml"

// Defaults applied by Load for fields left unset in the TOML file.
const (
	DefaultTTSWorkers            = 2
	DefaultBackgroundWorkers     = 4
	DefaultRequestTimeoutSeconds = 300
	DefaultProviderTimeoutSecs   = 60
	DefaultEmbeddingDimensions   = 768
	DefaultMaxChunkChars         = 800
	DefaultOverlapChars          = 100
	DefaultMaxFileSizeMB         = 50
)

// ErrMissingPaths indicates that the [paths] section is incomplete.
var ErrMissingPaths = errors.New("paths.document_library_dir and paths.audio_dir are required")

// Config is the root of the decoded project.toml.
type Config struct {
	Paths     PathsSettings     `toml:"paths"`
	Service   ServiceSettings   `toml:"service"`
	Gemini    GeminiSettings    `toml:"gemini"`
	Embedding EmbeddingSettings `toml:"embedding"`
	Ingest    IngestSettings    `toml:"ingest"`
	TTS       TTSSettings       `toml:"tts"`
	NATS      NATSSettings      `toml:"nats"`
}

// PathsSettings locates the shared disk state.
type PathsSettings struct {
	DocumentLibraryDir string `toml:"document_library_dir"`
	AudioDir           string `toml:"audio_dir"`
	ScriptsDir         string `toml:"scripts_dir"`
	BaseLogsDir        string `toml:"base_logs_dir"`
}

// ServiceSettings sizes the worker pools and request deadlines.
type ServiceSettings struct {
	TTSWorkers            int `toml:"tts_workers"`
	BackgroundWorkers     int `toml:"bg_workers"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// GeminiSettings configures the LLM backend used for script synthesis,
// insights and Gemini speech.
type GeminiSettings struct {
	APIKeyEnvironmentVariable string   `toml:"api_key_variable"`
	Models                    []string `toml:"models"`
	SpeechModel               string   `toml:"speech_model"`
	EmbeddingModel            string   `toml:"embedding_model"`
	Temperature               float64  `toml:"temperature"`
	MaxTokens                 int      `toml:"max_tokens"`
	TimeoutSeconds            int      `toml:"timeout_seconds"`
	MaxRetries                int      `toml:"max_retries"`
	RetryDelaySeconds         int      `toml:"retry_delay_seconds"`
	VoiceA                    string   `toml:"voice_a"`
	VoiceB                    string   `toml:"voice_b"`
}

// EmbeddingSettings fixes the vector dimensionality at startup.
type EmbeddingSettings struct {
	Dimensions int `toml:"dimensions"`
}

// IngestSettings validates uploads and bounds chunk sizes.
type IngestSettings struct {
	MaxFileSizeMB     int      `toml:"max_file_size_mb"`
	AllowedExtensions []string `toml:"allowed_extensions"`
	MaxChunkChars     int      `toml:"max_chunk_chars"`
	OverlapChars      int      `toml:"overlap_chars"`
}

// TTSSettings selects and configures the speech providers. Provider forces a
// single provider and disables the fallback chain when non-empty.
type TTSSettings struct {
	Provider               string          `toml:"provider"`
	ProviderTimeoutSeconds int             `toml:"provider_timeout_seconds"`
	Google                 GoogleTTSConfig `toml:"google"`
	Edge                   EdgeTTSConfig   `toml:"edge"`
	HF                     HFTTSConfig     `toml:"hf"`
	Offline                OfflineConfig   `toml:"offline"`
}

// GoogleTTSConfig configures the Google translate speech endpoint.
type GoogleTTSConfig struct {
	Language string `toml:"language"`
}

// EdgeTTSConfig names the edge-tts voices for the two speaker slots.
type EdgeTTSConfig struct {
	VoiceA string `toml:"voice_a"`
	VoiceB string `toml:"voice_b"`
}

// HFTTSConfig configures the Hugging Face inference provider.
type HFTTSConfig struct {
	TokenEnvironmentVariable string `toml:"token_variable"`
	Model                    string `toml:"model"`
}

// OfflineConfig configures the espeak-ng fallback.
type OfflineConfig struct {
	Voice string `toml:"voice"`
}

// NATSSettings wires the request surface.
type NATSSettings struct {
	URL                    string `toml:"url"`
	StreamName             string `toml:"stream"`
	UploadSubject          string `toml:"upload_subject"`
	GenerateAudioSubject   string `toml:"generate_audio_subject"`
	ConsumerName           string `toml:"consumer"`
	DocumentIndexedSubject string `toml:"document_indexed_subject"`
	AudioGeneratedSubject  string `toml:"audio_generated_subject"`
	DeadLetterSubject      string `toml:"dlq_subject"`
}

// Load reads and decodes the TOML configuration, applying defaults for any
// unset sizing fields.
func Load(filePath string, loggerInstance *logger.Logger) (*Config, error) {
	if filePath == "" {
		filePath = DefaultConfigFilename
	}

	configFile, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file '%s': %w", filePath, err)
	}
	defer func() {
		closeErr := configFile.Close()
		if closeErr != nil && loggerInstance != nil {
			loggerInstance.Warn("Failed to close config file: %v", closeErr)
		}
	}()

	var configuration Config

	decoder := toml.NewDecoder(configFile)

	err = decoder.Decode(&configuration)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML configuration: %w", err)
	}

	configuration.applyDefaults()

	err = configuration.validate()
	if err != nil {
		return nil, err
	}

	return &configuration, nil
}

func (c *Config) applyDefaults() {
	if c.Service.TTSWorkers <= 0 {
		c.Service.TTSWorkers = DefaultTTSWorkers
	}

	if c.Service.BackgroundWorkers <= 0 {
		c.Service.BackgroundWorkers = DefaultBackgroundWorkers
	}

	if c.Service.RequestTimeoutSeconds <= 0 {
		c.Service.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}

	if c.TTS.ProviderTimeoutSeconds <= 0 {
		c.TTS.ProviderTimeoutSeconds = DefaultProviderTimeoutSecs
	}

	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = DefaultEmbeddingDimensions
	}

	if c.Ingest.MaxChunkChars <= 0 {
		c.Ingest.MaxChunkChars = DefaultMaxChunkChars
	}

	if c.Ingest.OverlapChars <= 0 {
		c.Ingest.OverlapChars = DefaultOverlapChars
	}

	if c.Ingest.MaxFileSizeMB <= 0 {
		c.Ingest.MaxFileSizeMB = DefaultMaxFileSizeMB
	}

	if len(c.Ingest.AllowedExtensions) == 0 {
		c.Ingest.AllowedExtensions = []string{".pdf"}
	}

	if c.Paths.ScriptsDir == "" {
		c.Paths.ScriptsDir = filepath.Join(c.Paths.AudioDir, "scripts")
	}
}

func (c *Config) validate() error {
	if c.Paths.DocumentLibraryDir == "" || c.Paths.AudioDir == "" {
		return ErrMissingPaths
	}

	return nil
}

// GetAPIKey resolves the Gemini API key through the configured environment
// variable. An empty return means the key is not set.
func (c *Config) GetAPIKey() string {
	return os.Getenv(c.Gemini.APIKeyEnvironmentVariable)
}

// GetHFToken resolves the Hugging Face token through the configured
// environment variable.
func (c *Config) GetHFToken() string {
	return os.Getenv(c.TTS.HF.TokenEnvironmentVariable)
}

// ForcedProvider returns the provider tag forced via configuration or the
// TTS_PROVIDER environment variable. The environment wins so a deployment can
// pin a provider without editing project.toml.
func (c *Config) ForcedProvider() string {
	if env := os.Getenv("TTS_PROVIDER"); env != "" {
		return env
	}

	return c.TTS.Provider
}

// GetLogFilePath joins the configured log directory with the given filename.
func (c *Config) GetLogFilePath(filename string) string {
	return filepath.Join(c.Paths.BaseLogsDir, filename)
}
