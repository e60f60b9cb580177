package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/pdf-audio-service/internal/audio"
	"github.com/book-expert/pdf-audio-service/internal/shared"
)

var (
	// ErrAllProvidersFailed is returned when every provider in the chain
	// failed for a synthesis unit.
	ErrAllProvidersFailed = errors.New("all TTS providers failed")
	// ErrUnknownProvider is returned when configuration forces a provider
	// tag that is not registered.
	ErrUnknownProvider = errors.New("unknown TTS provider")
	// ErrEmptyScript is returned for a script with nothing to synthesize.
	ErrEmptyScript = errors.New("empty script")
)

// URLPrefix is the public prefix under which the audio directory is served.
const URLPrefix = "/audio/"

// Normalizer converts provider output to the uniform clip format and probes
// durations. The audio.Toolbox satisfies it.
type Normalizer interface {
	NormalizeToMP3(ctx context.Context, inputPath, outputPath string) error
	DurationMS(ctx context.Context, clipPath string) (int64, error)
}

// ScriptMuxer concatenates ordered clips into one artifact. The audio.Muxer
// satisfies it.
type ScriptMuxer interface {
	Mux(ctx context.Context, clips []audio.Clip, lines []shared.Line, outputPath, outputURL string) (*shared.AudioArtifact, error)
}

// Dispatcher renders scripts and lines to audio, walking an ordered provider
// chain and caching every produced clip on disk under a deterministic name.
type Dispatcher struct {
	providers []Provider
	cache     *ClipCache
	tools     Normalizer
	muxer     ScriptMuxer
	workers   int
	logger    *logger.Logger
}

// NewDispatcher creates a Dispatcher over the ordered provider chain. When
// forced is non-empty only that provider is used and no fallback happens.
func NewDispatcher(
	providers []Provider,
	forced string,
	cache *ClipCache,
	tools Normalizer,
	muxer ScriptMuxer,
	workers int,
	log *logger.Logger,
) (*Dispatcher, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: empty provider chain", ErrUnknownProvider)
	}

	if forced != "" {
		single, err := selectProvider(providers, forced)
		if err != nil {
			return nil, err
		}

		providers = []Provider{single}
	}

	if workers <= 0 {
		workers = 1
	}

	return &Dispatcher{
		providers: providers,
		cache:     cache,
		tools:     tools,
		muxer:     muxer,
		workers:   workers,
		logger:    log,
	}, nil
}

func selectProvider(providers []Provider, tag string) (Provider, error) {
	for _, provider := range providers {
		if provider.Name() == tag {
			return provider, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
}

// Providers returns the active chain, in order.
func (d *Dispatcher) Providers() []Provider {
	return d.providers
}

// SynthesizeLine renders one text for one speaker label, trying providers in
// order. The produced clip lands in the audio directory under its
// deterministic basename; an existing file short-circuits any provider call.
func (d *Dispatcher) SynthesizeLine(
	ctx context.Context,
	label, text string,
	voices shared.VoiceConfig,
) (audio.Clip, error) {
	var lastErr error

	for _, provider := range d.providers {
		if ctx.Err() != nil {
			return audio.Clip{}, fmt.Errorf("synthesis canceled: %w", ctx.Err())
		}

		voice := voices.Voice(label, provider.DefaultVoice(label))
		basename := ClipBasename(text, voice, provider.Name(), voices.Style)

		if path, ok := d.cache.Lookup(basename); ok {
			return audio.Clip{Path: path, URL: URLPrefix + basename}, nil
		}

		data, err := provider.Synthesize(ctx, text, voice)
		if err != nil {
			lastErr = err

			d.logger.Warn(
				"Provider %s failed (%s), trying next: %v",
				provider.Name(),
				KindOf(err),
				err,
			)

			continue
		}

		clip, writeErr := d.commitClip(ctx, basename, data, provider.OutputFormat())
		if writeErr != nil {
			lastErr = writeErr

			d.logger.Warn("Provider %s produced unusable audio: %v", provider.Name(), writeErr)

			continue
		}

		return clip, nil
	}

	return audio.Clip{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// commitClip writes raw provider output to a scratch file, normalizes it to
// the uniform MP3 target under the deterministic basename, and registers it.
func (d *Dispatcher) commitClip(
	ctx context.Context,
	basename string,
	data []byte,
	format Format,
) (audio.Clip, error) {
	const filePermission = 0o600

	extension := ".mp3"
	if format == FormatWAV {
		extension = ".wav"
	}

	rawPath := filepath.Join(d.cache.Dir(), basename+".raw"+extension)

	err := os.WriteFile(rawPath, data, filePermission)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("write raw clip: %w", err)
	}

	defer func() {
		_ = os.Remove(rawPath)
	}()

	finalPath := d.cache.Path(basename)

	err = d.tools.NormalizeToMP3(ctx, rawPath, finalPath)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("normalize clip: %w", err)
	}

	d.cache.Store(basename)

	return audio.Clip{Path: finalPath, URL: URLPrefix + basename}, nil
}

// SynthesizeScript renders a whole script to an artifact. Narration is one
// synthesis unit; dialogue goes through one multi-speaker call when the
// front provider supports it and falls back to per-line fan-out otherwise.
func (d *Dispatcher) SynthesizeScript(
	ctx context.Context,
	script *shared.Script,
	voices shared.VoiceConfig,
) (*shared.AudioArtifact, error) {
	if script == nil || script.Text == "" {
		return nil, ErrEmptyScript
	}

	if script.Mode == shared.ModeNarration {
		return d.synthesizeNarration(ctx, script, voices)
	}

	if len(script.Lines) == 0 {
		return nil, ErrEmptyScript
	}

	if artifact, err := d.tryMultiSpeaker(ctx, script, voices); err == nil && artifact != nil {
		return artifact, nil
	} else if err != nil {
		d.logger.Warn("Multi-speaker synthesis failed, falling back to per-line fan-out: %v", err)
	}

	return d.fanOut(ctx, script, voices)
}

// synthesizeNarration renders the whole narration as a single clip with one
// chapter spanning it.
func (d *Dispatcher) synthesizeNarration(
	ctx context.Context,
	script *shared.Script,
	voices shared.VoiceConfig,
) (*shared.AudioArtifact, error) {
	clip, err := d.SynthesizeLine(ctx, shared.SpeakerOne, script.Text, voices)
	if err != nil {
		return nil, err
	}

	duration, err := d.tools.DurationMS(ctx, clip.Path)
	if err != nil {
		return nil, fmt.Errorf("probe narration clip: %w", err)
	}

	return &shared.AudioArtifact{
		URL: clip.URL,
		Chapters: []shared.Chapter{{
			Index:   0,
			Speaker: shared.Narrator,
			Text:    script.Text,
			StartMS: 0,
			EndMS:   duration,
		}},
	}, nil
}

// tryMultiSpeaker attempts a one-call dialogue rendition on the front
// provider. A (nil, nil) return means the chain has no multi-speaker front
// provider and the caller should fan out directly.
func (d *Dispatcher) tryMultiSpeaker(
	ctx context.Context,
	script *shared.Script,
	voices shared.VoiceConfig,
) (*shared.AudioArtifact, error) {
	front := d.providers[0]

	multiSpeaker, ok := front.(MultiSpeakerProvider)
	if !ok || !front.SupportsMultiSpeaker() {
		return nil, nil
	}

	voiceA := voices.Voice(shared.SpeakerOne, front.DefaultVoice(shared.SpeakerOne))
	voiceB := voices.Voice(shared.SpeakerTwo, front.DefaultVoice(shared.SpeakerTwo))
	basename := ArtifactBasename(script.Text, voiceA, voiceB, front.Name())

	path, cached := d.cache.Lookup(basename)
	if !cached {
		data, err := multiSpeaker.SynthesizeDialogue(ctx, dialogueTranscript(script), voiceA, voiceB)
		if err != nil {
			return nil, err
		}

		clip, commitErr := d.commitClip(ctx, basename, data, front.OutputFormat())
		if commitErr != nil {
			return nil, commitErr
		}

		path = clip.Path
	}

	total, err := d.tools.DurationMS(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe dialogue artifact: %w", err)
	}

	return &shared.AudioArtifact{
		URL:      URLPrefix + basename,
		Chapters: apportionChapters(script.Lines, total),
	}, nil
}

// dialogueTranscript rebuilds the labeled transcript the speech model needs
// to assign voices to lines.
func dialogueTranscript(script *shared.Script) string {
	var transcript string

	for _, line := range script.Lines {
		transcript += line.Speaker + ": " + line.Text + "\n"
	}

	return transcript
}

// apportionChapters distributes a single blob's measured duration across
// lines proportionally to their text length. Boundaries stay contiguous and
// the last chapter absorbs rounding so the total matches the measurement
// exactly.
func apportionChapters(lines []shared.Line, totalMS int64) []shared.Chapter {
	var totalChars int

	for _, line := range lines {
		totalChars += len(line.Text)
	}

	if totalChars == 0 {
		totalChars = len(lines)
	}

	chapters := make([]shared.Chapter, len(lines))

	var cursor int64

	for i, line := range lines {
		weight := len(line.Text)
		if weight == 0 {
			weight = 1
		}

		end := cursor + totalMS*int64(weight)/int64(totalChars)
		if i == len(lines)-1 {
			end = totalMS
		}

		chapters[i] = shared.Chapter{
			Index:   i,
			Speaker: line.Speaker,
			Text:    line.Text,
			StartMS: cursor,
			EndMS:   end,
		}

		cursor = end
	}

	return chapters
}

type lineResult struct {
	index int
	clip  audio.Clip
	err   error
}

// fanOut synthesizes every line on the bounded worker pool and muxes the
// ordered clips. Output order follows line order regardless of completion
// order. Lines that fail on every provider are dropped and the artifact is
// degraded; zero successes fail the request.
func (d *Dispatcher) fanOut(
	ctx context.Context,
	script *shared.Script,
	voices shared.VoiceConfig,
) (*shared.AudioArtifact, error) {
	results := d.synthesizeLinesParallel(ctx, script.Lines, voices)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("fan-out canceled: %w", ctx.Err())
	}

	var (
		clips      []audio.Clip
		keptLines  []shared.Line
		failed     int
		anyFailure error
	)

	for i, result := range results {
		if result.err != nil {
			failed++
			anyFailure = result.err

			d.logger.Error("Line %d failed on every provider: %v", i, result.err)

			continue
		}

		clips = append(clips, result.clip)
		keptLines = append(keptLines, script.Lines[i])
	}

	if len(clips) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, anyFailure)
	}

	voiceA := voices.Voice(shared.SpeakerOne, d.providers[0].DefaultVoice(shared.SpeakerOne))
	voiceB := voices.Voice(shared.SpeakerTwo, d.providers[0].DefaultVoice(shared.SpeakerTwo))
	basename := ArtifactBasename(script.Text, voiceA, voiceB, "mux")

	artifact, err := d.muxer.Mux(ctx, clips, keptLines, d.cache.Path(basename), URLPrefix+basename)
	if err != nil {
		return nil, err
	}

	if !artifact.Degraded {
		d.cache.Store(basename)
	}

	if failed > 0 {
		artifact.Degraded = true
	}

	return artifact, nil
}

// synthesizeLinesParallel runs a bounded pool over indexed jobs; order is
// restored by result slot, not completion.
func (d *Dispatcher) synthesizeLinesParallel(
	ctx context.Context,
	lines []shared.Line,
	voices shared.VoiceConfig,
) []lineResult {
	jobs := make(chan int, len(lines))
	out := make(chan lineResult, len(lines))

	var waitGroup sync.WaitGroup

	for range d.workers {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			for index := range jobs {
				if ctx.Err() != nil {
					out <- lineResult{index: index, err: ctx.Err()}

					continue
				}

				clip, err := d.SynthesizeLine(ctx, lines[index].Speaker, lines[index].Text, voices)
				out <- lineResult{index: index, clip: clip, err: err}
			}
		}()
	}

	for index := range lines {
		jobs <- index
	}

	close(jobs)

	go func() {
		waitGroup.Wait()
		close(out)
	}()

	results := make([]lineResult, len(lines))
	for result := range out {
		results[result.index] = result
	}

	return results
}
