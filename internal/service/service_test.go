package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-audio-service/internal/library"
	"github.com/book-expert/pdf-audio-service/internal/llm"
	"github.com/book-expert/pdf-audio-service/internal/script"
	"github.com/book-expert/pdf-audio-service/internal/service"
	"github.com/book-expert/pdf-audio-service/internal/shared"
	"github.com/book-expert/pdf-audio-service/internal/vectorindex"
)

type fakeIngestor struct {
	chunks   []shared.Chunk
	pageText string
	err      error
	calls    int
}

func (f *fakeIngestor) Ingest(_ string) ([]shared.Chunk, error) {
	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	chunks := make([]shared.Chunk, len(f.chunks))
	copy(chunks, f.chunks)

	return chunks, nil
}

func (f *fakeIngestor) ExtractPageText(_ string, _ int) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	return f.pageText, nil
}

// fakeEmbedder maps marker words to fixed unit vectors so tests can steer
// similarity.
type fakeEmbedder struct{}

func (f *fakeEmbedder) vectorFor(text string) []float32 {
	switch {
	case strings.Contains(text, "alpha"):
		return []float32{1, 0}
	case strings.Contains(text, "beta"):
		return []float32{0, 1}
	default:
		return []float32{0.7071068, 0.7071068}
	}
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.vectorFor(text)
	}

	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.vectorFor(text), nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }

type fakeSynthesizer struct {
	lastMode  shared.ScriptMode
	lastHints shared.StyleHints
	script    *shared.Script
	err       error
}

func (f *fakeSynthesizer) Synthesize(
	_ context.Context,
	_ string,
	mode shared.ScriptMode,
	hints shared.StyleHints,
) (*shared.Script, error) {
	f.lastMode = mode
	f.lastHints = hints

	if f.err != nil {
		return nil, f.err
	}

	if f.script != nil {
		return f.script, nil
	}

	return &shared.Script{Mode: mode, Text: "generated"}, nil
}

type fakeDispatcher struct {
	artifact *shared.AudioArtifact
	voices   shared.VoiceConfig
	err      error
}

func (f *fakeDispatcher) SynthesizeScript(
	_ context.Context,
	_ *shared.Script,
	voices shared.VoiceConfig,
) (*shared.AudioArtifact, error) {
	f.voices = voices

	if f.err != nil {
		return nil, f.err
	}

	if f.artifact != nil {
		return f.artifact, nil
	}

	return &shared.AudioArtifact{URL: "/audio/test.mp3"}, nil
}

type fakeGenerator struct {
	response string
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ llm.GenerateOptions) (string, error) {
	return f.response, f.err
}

type fakeClips struct {
	rebuilds int
}

func (f *fakeClips) Rebuild() error {
	f.rebuilds++

	return nil
}

type fixture struct {
	service    *service.Service
	ingestor   *fakeIngestor
	index      *vectorindex.Index
	dispatcher *fakeDispatcher
	synth      *fakeSynthesizer
	clips      *fakeClips
	scripts    *fakeClips
	library    *library.Library
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	lib, err := library.New(t.TempDir(), 10, []string{".pdf"})
	require.NoError(t, err)

	ingestor := &fakeIngestor{
		pageText: "Page text about alpha topics.",
		chunks: []shared.Chunk{
			{Text: "alpha chunk", PageNumber: 1, SectionIndex: 0},
			{Text: "beta chunk", PageNumber: 2, SectionIndex: 0},
		},
	}

	index := vectorindex.New(2)
	dispatcher := &fakeDispatcher{}
	synth := &fakeSynthesizer{}
	clips := &fakeClips{}
	scripts := &fakeClips{}

	svc := service.New(service.Options{
		Ingestor:              ingestor,
		Embedder:              &fakeEmbedder{},
		Index:                 index,
		Synthesizer:           synth,
		Dispatcher:            dispatcher,
		Generator:             &fakeGenerator{response: `{"summary":"s","insights":["i"],"facts":[],"contradictions":[]}`},
		Library:               lib,
		Clips:                 clips,
		Scripts:               scripts,
		Logger:                log,
		RequestTimeoutSeconds: 30,
	})

	return &fixture{
		service:    svc,
		ingestor:   ingestor,
		index:      index,
		dispatcher: dispatcher,
		synth:      synth,
		clips:      clips,
		scripts:    scripts,
		library:    lib,
	}
}

func TestGenerateAudio_EmptyInputIsInvalidRequest(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	_, err := fix.service.GenerateAudio(context.Background(), service.GenerateAudioRequest{})

	var apiErr *service.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, service.CodeInvalidRequest, apiErr.Code)
	require.NotEmpty(t, apiErr.CorrelationID)
}

func TestGenerateAudio_TextAndFilenameIsInvalid(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	_, err := fix.service.GenerateAudio(context.Background(), service.GenerateAudioRequest{
		Text:     "some text",
		Filename: "paper.pdf",
	})

	var apiErr *service.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, service.CodeInvalidRequest, apiErr.Code)
}

func TestGenerateAudio_NarrationFromText(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	artifact, err := fix.service.GenerateAudio(context.Background(), service.GenerateAudioRequest{
		Text: "Photosynthesis converts light into chemical energy.",
	})

	require.NoError(t, err)
	require.Equal(t, "/audio/test.mp3", artifact.URL)
	require.Equal(t, shared.ModeNarration, fix.synth.lastMode)
}

func TestGenerateAudio_TwoSpeakersSelectsDialogue(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	_, err := fix.service.GenerateAudio(context.Background(), service.GenerateAudioRequest{
		Text:        "Some source.",
		Podcast:     true,
		TwoSpeakers: true,
		Style:       "lively",
		Speakers:    map[string]string{shared.SpeakerOne: "Kore"},
	})

	require.NoError(t, err)
	require.Equal(t, shared.ModeDialogue, fix.synth.lastMode)
	require.True(t, fix.synth.lastHints.Podcast)
	require.Equal(t, "lively", fix.dispatcher.voices.Style)
	require.Equal(t, "Kore", fix.dispatcher.voices.Voices[shared.SpeakerOne])
}

func TestGenerateAudio_ScriptSynthFailureSurfaces(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.synth.err = scriptSynthErr()

	_, err := fix.service.GenerateAudio(context.Background(), service.GenerateAudioRequest{
		Text: "Some source.",
	})

	var apiErr *service.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, service.CodeScriptSynthFailed, apiErr.Code)
	require.True(t, apiErr.Retryable())
}

func TestIngest_RepeatDoesNotGrowIndex(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	_, err := fix.library.Save("doc.pdf", []byte("%PDF"))
	require.NoError(t, err)

	request := service.IngestRequest{Filenames: []string{"doc.pdf"}}

	_, err = fix.service.Ingest(context.Background(), request)
	require.NoError(t, err)

	sizeAfterFirst := fix.index.Len()
	require.Equal(t, 2, sizeAfterFirst)

	_, err = fix.service.Ingest(context.Background(), request)
	require.NoError(t, err)

	require.Equal(t, sizeAfterFirst, fix.index.Len())
	require.Equal(t, 1, fix.ingestor.calls, "second ingest must not re-extract")
}

func TestIngest_NoFilenames(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	_, err := fix.service.Ingest(context.Background(), service.IngestRequest{})

	var apiErr *service.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, service.CodeInvalidRequest, apiErr.Code)
}

func TestSearch_ByText(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	seedIndex(t, fix)

	results, err := fix.service.Search(context.Background(), service.SearchRequest{
		Text: "alpha things",
		K:    5,
	})

	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "alpha chunk", results[0].Snippet)
	require.InDelta(t, 1.0-results[0].Score, results[0].Distance, 1e-9)
}

func TestSearch_ExcludeSelfFallsBackToBestSelf(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	// Index only the query's own page; excluding it empties the results,
	// which must fall back to the best self hit instead of nothing.
	err := fix.index.Add(
		[]shared.Chunk{{Text: "alpha chunk", Filename: "doc.pdf", PageNumber: 1}},
		[][]float32{{1, 0}},
	)
	require.NoError(t, err)

	results, err := fix.service.Search(context.Background(), service.SearchRequest{
		Filename:    "doc.pdf",
		PageNumber:  1,
		K:           5,
		ExcludeSelf: true,
	})

	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "doc.pdf", results[0].Filename)
}

func TestSearch_NoInputs(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	_, err := fix.service.Search(context.Background(), service.SearchRequest{})

	var apiErr *service.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, service.CodeInvalidRequest, apiErr.Code)
}

func TestInsights_FromText(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	seedIndex(t, fix)

	response, err := fix.service.Insights(context.Background(), service.InsightsRequest{
		Text: "alpha context",
		K:    3,
	})

	require.NoError(t, err)
	require.Equal(t, "s", response.Summary)
	require.Equal(t, []string{"i"}, response.Insights)
	require.NotEmpty(t, response.Citations)
}

func TestInsights_MissingInputs(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	_, err := fix.service.Insights(context.Background(), service.InsightsRequest{})

	var apiErr *service.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, service.CodeInvalidRequest, apiErr.Code)
}

func TestCrossInsights_NeedsTwoDocuments(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	seedIndex(t, fix)

	_, err := fix.service.CrossInsights(context.Background(), service.CrossInsightsRequest{
		Filenames: []string{"a.pdf"},
	})

	var apiErr *service.APIError

	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, service.CodeInvalidRequest, apiErr.Code)
}

func TestRecover_RebuildsCachesAndIndex(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	_, err := fix.library.Save("doc.pdf", []byte("%PDF"))
	require.NoError(t, err)

	err = fix.service.Recover(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, fix.clips.rebuilds)
	require.Equal(t, 1, fix.scripts.rebuilds)
	require.Equal(t, 2, fix.index.Len())
	require.True(t, fix.index.HasFile("doc.pdf"))
}

func scriptSynthErr() error {
	return fmt.Errorf("%w: model unavailable", script.ErrScriptSynthFailed)
}

func seedIndex(t *testing.T, fix *fixture) {
	t.Helper()

	err := fix.index.Add(
		[]shared.Chunk{
			{Text: "alpha chunk", Filename: "a.pdf", PageNumber: 1},
			{Text: "beta chunk", Filename: "b.pdf", PageNumber: 2},
		},
		[][]float32{{1, 0}, {0, 1}},
	)
	require.NoError(t, err)
}
