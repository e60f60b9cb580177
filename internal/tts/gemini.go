package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/pdf-audio-service/internal/audio"
	"github.com/book-expert/pdf-audio-service/internal/llm"
	"github.com/book-expert/pdf-audio-service/internal/shared"
)

// ProviderGemini is the tag of the Gemini speech provider.
const ProviderGemini = "gemini"

// SpeechClient is the slice of the LLM backend the Gemini provider needs.
type SpeechClient interface {
	GenerateSpeech(ctx context.Context, script string, opts llm.SpeechOptions) ([]byte, llm.SampleInfo, error)
}

// GeminiProvider synthesizes speech through the Gemini speech model. The
// model returns raw PCM, which is wrapped into a WAV container using the
// reported sample metadata before leaving the provider.
type GeminiProvider struct {
	client SpeechClient
	voiceA string
	voiceB string
}

// NewGeminiProvider creates the provider with its two configured voice slots.
func NewGeminiProvider(client SpeechClient, voiceA, voiceB string) *GeminiProvider {
	return &GeminiProvider{client: client, voiceA: voiceA, voiceB: voiceB}
}

// Name returns the provider tag.
func (g *GeminiProvider) Name() string { return ProviderGemini }

// SupportsMultiSpeaker reports one-call dialogue support.
func (g *GeminiProvider) SupportsMultiSpeaker() bool { return true }

// OutputFormat reports the container of synthesized bytes.
func (g *GeminiProvider) OutputFormat() Format { return FormatWAV }

// DefaultVoice resolves the configured voice for a speaker label.
func (g *GeminiProvider) DefaultVoice(label string) string {
	if label == shared.SpeakerTwo {
		return g.voiceB
	}

	return g.voiceA
}

// Synthesize renders one text with a single voice.
func (g *GeminiProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	samples, info, err := g.client.GenerateSpeech(ctx, text, llm.SpeechOptions{
		Mode:   llm.SpeechSingle,
		VoiceA: voice,
	})
	if err != nil {
		return nil, g.classify(err)
	}

	return audio.WrapPCM(samples, info.SampleRate, info.BitsPerSample, info.Channels), nil
}

// SynthesizeDialogue renders a whole labeled dialogue in one call.
func (g *GeminiProvider) SynthesizeDialogue(
	ctx context.Context,
	scriptText, voiceA, voiceB string,
) ([]byte, error) {
	samples, info, err := g.client.GenerateSpeech(ctx, scriptText, llm.SpeechOptions{
		Mode:     llm.SpeechMulti,
		VoiceA:   voiceA,
		VoiceB:   voiceB,
		SpeakerA: shared.SpeakerOne,
		SpeakerB: shared.SpeakerTwo,
	})
	if err != nil {
		return nil, g.classify(err)
	}

	return audio.WrapPCM(samples, info.SampleRate, info.BitsPerSample, info.Channels), nil
}

// classify maps Gemini API failures onto the dispatcher taxonomy by the
// status hints present in the error text. The genai SDK does not expose
// typed status errors across transports.
func (g *GeminiProvider) classify(err error) error {
	kind := KindTransient

	message := strings.ToLower(err.Error())

	switch {
	case ctxErr(err):
		kind = KindTimeout
	case strings.Contains(message, "429") || strings.Contains(message, "resource_exhausted"):
		kind = KindRateLimited
	case strings.Contains(message, "401") || strings.Contains(message, "403") ||
		strings.Contains(message, "api key"):
		kind = KindAuthFailure
	case strings.Contains(message, "voice"):
		kind = KindInvalidVoice
	case strings.Contains(message, "400") || strings.Contains(message, "invalid_argument"):
		kind = KindPermanent
	}

	return &ProviderError{
		Provider: ProviderGemini,
		Kind:     kind,
		Err:      fmt.Errorf("generate speech: %w", err),
	}
}

func ctxErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
