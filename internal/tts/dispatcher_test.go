package tts_test

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-audio-service/internal/audio"
	"github.com/book-expert/pdf-audio-service/internal/shared"
	"github.com/book-expert/pdf-audio-service/internal/tts"
)

// fakeProvider fails the first failures-many calls with the configured kind,
// then succeeds.
type fakeProvider struct {
	name         string
	multi        bool
	failures     int
	failKind     tts.Kind
	calls        atomic.Int64
	dialogueCall atomic.Int64
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) SupportsMultiSpeaker() bool { return f.multi }
func (f *fakeProvider) OutputFormat() tts.Format   { return tts.FormatMP3 }

func (f *fakeProvider) DefaultVoice(label string) string {
	return f.name + "-voice-" + label
}

func (f *fakeProvider) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	call := f.calls.Add(1)

	if int(call) <= f.failures {
		return nil, &tts.ProviderError{
			Provider: f.name,
			Kind:     f.failKind,
			Err:      errors.New("synthetic failure"),
		}
	}

	return []byte(f.name + ":" + text), nil
}

func (f *fakeProvider) SynthesizeDialogue(_ context.Context, scriptText, _, _ string) ([]byte, error) {
	call := f.dialogueCall.Add(1)

	if int(call) <= f.failures {
		return nil, &tts.ProviderError{
			Provider: f.name,
			Kind:     f.failKind,
			Err:      errors.New("synthetic dialogue failure"),
		}
	}

	return []byte(f.name + ":dialogue:" + scriptText), nil
}

// fakeNormalizer copies raw bytes to the final path and reports a fixed
// duration per clip.
type fakeNormalizer struct {
	durationMS int64
}

func (f *fakeNormalizer) NormalizeToMP3(_ context.Context, inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}

	return os.WriteFile(outputPath, data, 0o600)
}

func (f *fakeNormalizer) DurationMS(_ context.Context, _ string) (int64, error) {
	if f.durationMS == 0 {
		return 1000, nil
	}

	return f.durationMS, nil
}

func newDispatcher(
	t *testing.T,
	providers []tts.Provider,
	forced string,
) (*tts.Dispatcher, *tts.ClipCache) {
	t.Helper()

	cache, err := tts.NewClipCache(t.TempDir(), newTestLogger(t))
	require.NoError(t, err)

	tools := &fakeNormalizer{}
	muxer := audio.NewMuxer(&muxTools{tools: tools}, newTestLogger(t))

	dispatcher, err := tts.NewDispatcher(providers, forced, cache, tools, muxer, 2, newTestLogger(t))
	require.NoError(t, err)

	return dispatcher, cache
}

// muxTools adapts fakeNormalizer to the muxer's Tools interface with a
// working concat (writes a marker file).
type muxTools struct {
	tools *fakeNormalizer
}

func (m *muxTools) Concat(_ context.Context, _ []string, outputPath string) error {
	return os.WriteFile(outputPath, []byte("merged"), 0o600)
}

func (m *muxTools) DurationMS(ctx context.Context, clipPath string) (int64, error) {
	return m.tools.DurationMS(ctx, clipPath)
}

func dialogueScript() *shared.Script {
	lines := []shared.Line{
		{Speaker: shared.SpeakerOne, Text: "Line one."},
		{Speaker: shared.SpeakerTwo, Text: "Line two."},
		{Speaker: shared.SpeakerOne, Text: "Line three."},
		{Speaker: shared.SpeakerTwo, Text: "Line four."},
	}

	return &shared.Script{
		Mode:  shared.ModeDialogue,
		Text:  "Line one.\nLine two.\nLine three.\nLine four.",
		Lines: lines,
	}
}

func TestSynthesizeLine_FallbackSkipsFailingProviders(t *testing.T) {
	t.Parallel()

	first := &fakeProvider{name: "gemini", failures: 100, failKind: tts.KindRateLimited}
	second := &fakeProvider{name: "edge"}

	dispatcher, _ := newDispatcher(t, []tts.Provider{first, second}, "")

	clip, err := dispatcher.SynthesizeLine(
		context.Background(),
		shared.SpeakerOne,
		"hello",
		shared.VoiceConfig{},
	)

	require.NoError(t, err)
	require.FileExists(t, clip.Path)

	data, err := os.ReadFile(clip.Path)
	require.NoError(t, err)
	require.Equal(t, "edge:hello", string(data))
	require.Contains(t, clip.URL, "_edge.mp3")
}

func TestSynthesizeLine_AllProvidersExhausted(t *testing.T) {
	t.Parallel()

	first := &fakeProvider{name: "gemini", failures: 100, failKind: tts.KindTransient}
	second := &fakeProvider{name: "edge", failures: 100, failKind: tts.KindPermanent}

	dispatcher, _ := newDispatcher(t, []tts.Provider{first, second}, "")

	_, err := dispatcher.SynthesizeLine(
		context.Background(),
		shared.SpeakerOne,
		"hello",
		shared.VoiceConfig{},
	)

	require.ErrorIs(t, err, tts.ErrAllProvidersFailed)
}

func TestSynthesizeLine_ForcedProviderDisablesFallback(t *testing.T) {
	t.Parallel()

	first := &fakeProvider{name: "gemini", failures: 100, failKind: tts.KindTransient}
	second := &fakeProvider{name: "edge"}

	dispatcher, _ := newDispatcher(t, []tts.Provider{first, second}, "gemini")

	_, err := dispatcher.SynthesizeLine(
		context.Background(),
		shared.SpeakerOne,
		"hello",
		shared.VoiceConfig{},
	)

	require.ErrorIs(t, err, tts.ErrAllProvidersFailed)
	require.Zero(t, second.calls.Load(), "forced provider must prevent fallback attempts")
}

func TestNewDispatcher_UnknownForcedProvider(t *testing.T) {
	t.Parallel()

	cache, err := tts.NewClipCache(t.TempDir(), newTestLogger(t))
	require.NoError(t, err)

	_, err = tts.NewDispatcher(
		[]tts.Provider{&fakeProvider{name: "gemini"}},
		"bogus",
		cache,
		&fakeNormalizer{},
		nil,
		1,
		newTestLogger(t),
	)

	require.ErrorIs(t, err, tts.ErrUnknownProvider)
}

func TestSynthesizeLine_DiskCacheHitSkipsProviders(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{name: "gemini"}
	dispatcher, _ := newDispatcher(t, []tts.Provider{provider}, "")

	first, err := dispatcher.SynthesizeLine(
		context.Background(),
		shared.SpeakerOne,
		"cached text",
		shared.VoiceConfig{},
	)
	require.NoError(t, err)
	require.Equal(t, int64(1), provider.calls.Load())

	second, err := dispatcher.SynthesizeLine(
		context.Background(),
		shared.SpeakerOne,
		"cached text",
		shared.VoiceConfig{},
	)
	require.NoError(t, err)
	require.Equal(t, int64(1), provider.calls.Load(), "cache hit must not call the provider")
	require.Equal(t, first.URL, second.URL)

	firstBytes, err := os.ReadFile(first.Path)
	require.NoError(t, err)

	secondBytes, err := os.ReadFile(second.Path)
	require.NoError(t, err)

	require.Equal(t, firstBytes, secondBytes)
}

func TestSynthesizeScript_Narration(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{name: "gemini"}
	dispatcher, _ := newDispatcher(t, []tts.Provider{provider}, "")

	narration := &shared.Script{
		Mode: shared.ModeNarration,
		Text: "Photosynthesis converts light into chemical energy.",
	}

	artifact, err := dispatcher.SynthesizeScript(context.Background(), narration, shared.VoiceConfig{})

	require.NoError(t, err)
	require.Empty(t, artifact.Parts)
	require.Len(t, artifact.Chapters, 1)
	require.Equal(t, shared.Narrator, artifact.Chapters[0].Speaker)
	require.EqualValues(t, 0, artifact.Chapters[0].StartMS)
	require.EqualValues(t, 1000, artifact.Chapters[0].EndMS)
}

func TestSynthesizeScript_MultiSpeakerOneCall(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{name: "gemini", multi: true}
	dispatcher, _ := newDispatcher(t, []tts.Provider{provider}, "")

	script := dialogueScript()

	artifact, err := dispatcher.SynthesizeScript(context.Background(), script, shared.VoiceConfig{})

	require.NoError(t, err)
	require.Equal(t, int64(1), provider.dialogueCall.Load())
	require.Zero(t, provider.calls.Load(), "no per-line calls in one-call mode")
	require.Empty(t, artifact.Parts)
	require.Len(t, artifact.Chapters, len(script.Lines))

	// Chapters are contiguous from zero and sum to the measured total.
	require.EqualValues(t, 0, artifact.Chapters[0].StartMS)

	for i := 1; i < len(artifact.Chapters); i++ {
		require.Equal(t, artifact.Chapters[i-1].EndMS, artifact.Chapters[i].StartMS)
	}

	require.EqualValues(t, 1000, artifact.Chapters[len(artifact.Chapters)-1].EndMS)
}

func TestSynthesizeScript_FanOutPreservesLineOrder(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{name: "edge"}
	dispatcher, _ := newDispatcher(t, []tts.Provider{provider}, "")

	script := dialogueScript()

	artifact, err := dispatcher.SynthesizeScript(context.Background(), script, shared.VoiceConfig{})

	require.NoError(t, err)
	require.False(t, artifact.Degraded)
	require.Len(t, artifact.Chapters, len(script.Lines))
	require.Len(t, artifact.Parts, len(script.Lines))

	for i, chapter := range artifact.Chapters {
		require.Equal(t, i, chapter.Index)
		require.Equal(t, script.Lines[i].Text, chapter.Text)
		require.Equal(t, script.Lines[i].Speaker, chapter.Speaker)
	}
}

func TestSynthesizeScript_FanOutWithMidChainFallback(t *testing.T) {
	t.Parallel()

	// Provider one rate-limits two of the four lines; provider two picks
	// them up. All chapters must still arrive in order.
	first := &fakeProvider{name: "gemini", failures: 2, failKind: tts.KindRateLimited}
	second := &fakeProvider{name: "edge"}

	dispatcher, _ := newDispatcher(t, []tts.Provider{first, second}, "")

	script := dialogueScript()

	artifact, err := dispatcher.SynthesizeScript(context.Background(), script, shared.VoiceConfig{})

	require.NoError(t, err)
	require.Len(t, artifact.Chapters, len(script.Lines))
	require.Positive(t, second.calls.Load(), "fallback provider should have synthesized lines")

	for i, chapter := range artifact.Chapters {
		require.Equal(t, script.Lines[i].Text, chapter.Text)
	}
}

func TestSynthesizeScript_AllLinesFail(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{name: "gemini", failures: 1000, failKind: tts.KindTransient}
	dispatcher, _ := newDispatcher(t, []tts.Provider{provider}, "")

	_, err := dispatcher.SynthesizeScript(context.Background(), dialogueScript(), shared.VoiceConfig{})

	require.ErrorIs(t, err, tts.ErrAllProvidersFailed)
}

func TestSynthesizeScript_EmptyScript(t *testing.T) {
	t.Parallel()

	dispatcher, _ := newDispatcher(t, []tts.Provider{&fakeProvider{name: "gemini"}}, "")

	_, err := dispatcher.SynthesizeScript(context.Background(), &shared.Script{}, shared.VoiceConfig{})
	require.ErrorIs(t, err, tts.ErrEmptyScript)
}

func TestSynthesizeLine_CanceledContextStopsChain(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &fakeProvider{name: "gemini"}
	dispatcher, cache := newDispatcher(t, []tts.Provider{provider}, "")

	_, err := dispatcher.SynthesizeLine(ctx, shared.SpeakerOne, "text", shared.VoiceConfig{})

	require.Error(t, err)
	require.Zero(t, provider.calls.Load())
	require.Zero(t, cache.Len(), "cancellation must not create cache entries")
}
