// Package llm wraps the Gemini API behind the small surface the service
// needs: text generation, JSON generation, speech synthesis and embeddings.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"google.golang.org/genai"
)

var (
	// ErrEmptyResponse is returned when the model produced no usable text.
	ErrEmptyResponse = errors.New("empty model response")
	// ErrNoAudio is returned when a speech call produced no audio part.
	ErrNoAudio = errors.New("no audio data in model response")
	// ErrNoEmbedding is returned when an embedding call produced no vector.
	ErrNoEmbedding = errors.New("no embedding in model response")
	// ErrAllModelsFailed is returned when every configured model failed.
	ErrAllModelsFailed = errors.New("all models failed")
)

// ResponseFormat selects the generation output shape.
type ResponseFormat string

// Recognized response formats.
const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
)

// SpeechMode selects single- or multi-speaker synthesis.
type SpeechMode string

// Recognized speech modes.
const (
	SpeechSingle SpeechMode = "single"
	SpeechMulti  SpeechMode = "multi"
)

// GenerateOptions configures one text generation call.
type GenerateOptions struct {
	Temperature    float64
	MaxTokens      int
	ResponseFormat ResponseFormat
}

// SpeechOptions configures one speech synthesis call.
type SpeechOptions struct {
	Mode   SpeechMode
	VoiceA string
	VoiceB string
	// SpeakerA and SpeakerB are the labels the script uses, needed so the
	// model can match voices to dialogue lines in multi-speaker mode.
	SpeakerA string
	SpeakerB string
}

// SampleInfo describes raw PCM returned by a speech call.
type SampleInfo struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// Config holds the client configuration.
type Config struct {
	APIKey            string
	Models            []string
	SpeechModel       string
	EmbeddingModel    string
	TimeoutSeconds    int
	MaxRetries        int
	RetryDelaySeconds int
}

// Client is a thin wrapper over the genai SDK with model fallback and
// bounded retries.
type Client struct {
	api    *genai.Client
	config Config
	logger *logger.Logger
}

// New creates a Client talking to the Gemini API backend.
func New(ctx context.Context, config Config, log *logger.Logger) (*Client, error) {
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}

	return &Client{api: api, config: config, logger: log}, nil
}

// Generate produces a text completion for the prompt, trying each configured
// model in order with bounded retries per model.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	generationConfig := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}

	if opts.MaxTokens > 0 {
		generationConfig.MaxOutputTokens = int32(opts.MaxTokens)
	}

	if opts.ResponseFormat == FormatJSON {
		generationConfig.ResponseMIMEType = "application/json"
	}

	lastErr := ErrEmptyResponse

	for _, model := range c.config.Models {
		text, err := c.tryModelWithRetries(ctx, model, prompt, generationConfig)
		if err == nil {
			return text, nil
		}

		lastErr = err

		c.logger.Warn("Model %s failed: %v", model, err)
	}

	return "", fmt.Errorf("%w: %w", ErrAllModelsFailed, lastErr)
}

func (c *Client) tryModelWithRetries(
	ctx context.Context,
	model, prompt string,
	generationConfig *genai.GenerateContentConfig,
) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		text, err := c.callModel(ctx, model, prompt, generationConfig)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}

		if err == nil {
			err = ErrEmptyResponse
		}

		lastErr = err

		if attempt < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("context done: %w", ctx.Err())
			case <-time.After(time.Duration(c.config.RetryDelaySeconds) * time.Second):
			}
		}
	}

	return "", fmt.Errorf(
		"model %s failed after %d attempts: %w",
		model,
		c.config.MaxRetries,
		lastErr,
	)
}

func (c *Client) callModel(
	ctx context.Context,
	model, prompt string,
	generationConfig *genai.GenerateContentConfig,
) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.Models.GenerateContent(callCtx, model, genai.Text(prompt), generationConfig)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return response.Text(), nil
}

// GenerateSpeech renders a script to raw PCM samples. In multi mode the
// script's speaker labels are mapped to the two configured voices.
func (c *Client) GenerateSpeech(
	ctx context.Context,
	script string,
	opts SpeechOptions,
) ([]byte, SampleInfo, error) {
	speechConfig := c.buildSpeechConfig(opts)

	generationConfig := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig:       speechConfig,
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.Models.GenerateContent(
		callCtx,
		c.config.SpeechModel,
		genai.Text(script),
		generationConfig,
	)
	if err != nil {
		return nil, SampleInfo{}, fmt.Errorf("generate speech: %w", err)
	}

	data, mimeType := firstAudioPart(response)
	if len(data) == 0 {
		return nil, SampleInfo{}, ErrNoAudio
	}

	return data, sampleInfoFromMIME(mimeType), nil
}

func (c *Client) buildSpeechConfig(opts SpeechOptions) *genai.SpeechConfig {
	if opts.Mode == SpeechMulti {
		return &genai.SpeechConfig{
			MultiSpeakerVoiceConfig: &genai.MultiSpeakerVoiceConfig{
				SpeakerVoiceConfigs: []*genai.SpeakerVoiceConfig{
					{
						Speaker:     opts.SpeakerA,
						VoiceConfig: prebuiltVoice(opts.VoiceA),
					},
					{
						Speaker:     opts.SpeakerB,
						VoiceConfig: prebuiltVoice(opts.VoiceB),
					},
				},
			},
		}
	}

	return &genai.SpeechConfig{VoiceConfig: prebuiltVoice(opts.VoiceA)}
}

func prebuiltVoice(name string) *genai.VoiceConfig {
	return &genai.VoiceConfig{
		PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: name},
	}
}

func firstAudioPart(response *genai.GenerateContentResponse) ([]byte, string) {
	for _, candidate := range response.Candidates {
		if candidate.Content == nil {
			continue
		}

		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, part.InlineData.MIMEType
			}
		}
	}

	return nil, ""
}

// sampleInfoFromMIME parses "audio/L16;codec=pcm;rate=24000" style MIME
// parameters, falling back to the documented 24 kHz 16-bit mono output.
func sampleInfoFromMIME(mimeType string) SampleInfo {
	info := SampleInfo{SampleRate: 24000, BitsPerSample: 16, Channels: 1}

	for _, param := range strings.Split(mimeType, ";") {
		param = strings.TrimSpace(param)
		if value, ok := strings.CutPrefix(param, "rate="); ok {
			rate, err := strconv.Atoi(value)
			if err == nil && rate > 0 {
				info.SampleRate = rate
			}
		}
	}

	return info
}

// Embed produces one embedding vector per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.Models.EmbedContent(callCtx, c.config.EmbeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf(
			"%w: want %d vectors, got %d",
			ErrNoEmbedding,
			len(texts),
			len(response.Embeddings),
		)
	}

	vectors := make([][]float32, len(response.Embeddings))
	for i, embedding := range response.Embeddings {
		if embedding == nil || len(embedding.Values) == 0 {
			return nil, fmt.Errorf("%w: vector %d", ErrNoEmbedding, i)
		}

		vectors[i] = embedding.Values
	}

	return vectors, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.TimeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, time.Duration(c.config.TimeoutSeconds)*time.Second)
}
