// Package service orchestrates ingestion, retrieval, script synthesis and
// audio generation behind the request surface.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"golang.org/x/sync/singleflight"

	"github.com/book-expert/pdf-audio-service/internal/embed"
	"github.com/book-expert/pdf-audio-service/internal/library"
	"github.com/book-expert/pdf-audio-service/internal/script"
	"github.com/book-expert/pdf-audio-service/internal/shared"
	"github.com/book-expert/pdf-audio-service/internal/vectorindex"
)

// Source-text ceilings. The LLM sees at most maxSourceChars of an entire-PDF
// request; page aggregation for search queries stops at maxQueryChars
// (original behavior of the recommendations endpoint).
const (
	maxSourceChars = 12000
	maxQueryChars  = 2000
)

// Ingestor is the slice of the ingest package the service needs.
type Ingestor interface {
	Ingest(path string) ([]shared.Chunk, error)
	ExtractPageText(path string, pageNumber int) (string, error)
}

// Synthesizer produces scripts from source text.
type Synthesizer interface {
	Synthesize(ctx context.Context, sourceText string, mode shared.ScriptMode, hints shared.StyleHints) (*shared.Script, error)
}

// AudioDispatcher renders scripts to artifacts.
type AudioDispatcher interface {
	SynthesizeScript(ctx context.Context, script *shared.Script, voices shared.VoiceConfig) (*shared.AudioArtifact, error)
}

// CacheRecoverer rebuilds an on-disk cache's in-memory map on startup. Both
// the clip cache and the script cache satisfy it.
type CacheRecoverer interface {
	Rebuild() error
}

// Service wires the pipeline components together.
type Service struct {
	ingestor       Ingestor
	embedder       embed.Embedder
	index          *vectorindex.Index
	synthesizer    Synthesizer
	dispatcher     AudioDispatcher
	generator      script.Generator
	library        *library.Library
	clips          CacheRecoverer
	scripts        CacheRecoverer
	logger         *logger.Logger
	requestTimeout time.Duration

	audioFlight singleflight.Group
}

// Options carries the service dependencies.
type Options struct {
	Ingestor              Ingestor
	Embedder              embed.Embedder
	Index                 *vectorindex.Index
	Synthesizer           Synthesizer
	Dispatcher            AudioDispatcher
	Generator             script.Generator
	Library               *library.Library
	Clips                 CacheRecoverer
	Scripts               CacheRecoverer
	Logger                *logger.Logger
	RequestTimeoutSeconds int
}

// New assembles the service.
func New(opts Options) *Service {
	timeout := time.Duration(opts.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	return &Service{
		ingestor:       opts.Ingestor,
		embedder:       opts.Embedder,
		index:          opts.Index,
		synthesizer:    opts.Synthesizer,
		dispatcher:     opts.Dispatcher,
		generator:      opts.Generator,
		library:        opts.Library,
		clips:          opts.Clips,
		scripts:        opts.Scripts,
		logger:         opts.Logger,
		requestTimeout: timeout,
	}
}

// Recover rebuilds in-memory state from disk: the clip cache map from the
// audio directory, the script cache from its persisted entries, and the
// vector index by re-ingesting any library document not yet represented.
// Together the two caches make a repeated request after a restart reuse the
// same script and clip files, with no LLM or provider calls.
func (s *Service) Recover(ctx context.Context) error {
	err := s.clips.Rebuild()
	if err != nil {
		return fmt.Errorf("rebuild clip cache: %w", err)
	}

	err = s.scripts.Rebuild()
	if err != nil {
		return fmt.Errorf("rebuild script cache: %w", err)
	}

	documents, err := s.library.List()
	if err != nil {
		return fmt.Errorf("list document library: %w", err)
	}

	for _, filename := range documents {
		if s.index.HasFile(filename) {
			continue
		}

		_, ingestErr := s.ingestDocument(ctx, filename)
		if ingestErr != nil {
			// One unreadable document must not block startup.
			s.logger.Warn("Skipping '%s' during recovery: %v", filename, ingestErr)
		}
	}

	s.logger.Success("Recovery complete: %d chunks indexed", s.index.Len())

	return nil
}

// Ingest indexes the named library documents.
func (s *Service) Ingest(ctx context.Context, request IngestRequest) (*IngestResponse, error) {
	if len(request.Filenames) == 0 {
		return nil, wrapError(fmt.Errorf("%w: no filenames", ErrInvalidRequest), "")
	}

	var indexed []string

	counts := make(map[string]int, len(request.Filenames))

	for _, raw := range request.Filenames {
		filename := library.Sanitize(raw)

		count, err := s.ingestDocument(ctx, filename)
		if err != nil {
			return nil, wrapError(err, filename)
		}

		s.logger.Info("Indexed '%s': %d chunks", filename, count)

		indexed = append(indexed, filename)
		counts[filename] = count
	}

	return &IngestResponse{IndexedFilenames: indexed, ChunkCounts: counts}, nil
}

// ingestDocument chunks, embeds and indexes one document. Re-ingesting an
// already-indexed document is a no-op so the index never grows on repeats.
func (s *Service) ingestDocument(ctx context.Context, filename string) (int, error) {
	if s.index.HasFile(filename) {
		return 0, nil
	}

	chunks, err := s.ingestor.Ingest(s.library.PathFor(filename))
	if err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		chunks[i].Filename = filename
		texts[i] = chunks[i].Text
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, err
	}

	err = s.index.Add(chunks, vectors)
	if err != nil {
		return 0, err
	}

	return len(chunks), nil
}

// Search returns recommendations for free text or for a document page.
func (s *Service) Search(ctx context.Context, request SearchRequest) ([]SearchResult, error) {
	queryText, err := s.resolveQueryText(request)
	if err != nil {
		return nil, wrapError(err, request.Filename)
	}

	if queryText == "" {
		return nil, nil
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, wrapError(err, "")
	}

	options := vectorindex.SearchOptions{
		K:        request.K,
		FetchK:   request.FetchK,
		MinScore: request.MinScore,
	}

	excludeSelf := request.ExcludeSelf && request.Filename != "" && request.PageNumber > 0
	if excludeSelf {
		options.Exclude = func(filename string, pageNumber int) bool {
			return filename == request.Filename && pageNumber == request.PageNumber
		}
	}

	results, err := s.index.Search(queryVector, options)
	if err != nil {
		return nil, wrapError(err, "")
	}

	// When excluding the query's own page filtered everything out, fall
	// back to the best hit from that page rather than returning nothing.
	if len(results) == 0 && excludeSelf {
		results, err = s.index.Search(queryVector, vectorindex.SearchOptions{
			K:        1,
			MinScore: request.MinScore,
		})
		if err != nil {
			return nil, wrapError(err, "")
		}
	}

	return shapeResults(results), nil
}

func shapeResults(results []vectorindex.Result) []SearchResult {
	shaped := make([]SearchResult, len(results))

	for i, result := range results {
		shaped[i] = SearchResult{
			Snippet:    result.Chunk.Text,
			Filename:   result.Chunk.Filename,
			PageNumber: result.Chunk.PageNumber,
			Score:      result.Score,
			Distance:   result.Distance,
		}
	}

	return shaped
}

func (s *Service) resolveQueryText(request SearchRequest) (string, error) {
	if text := strings.TrimSpace(request.Text); text != "" {
		return text, nil
	}

	if request.Filename == "" {
		return "", fmt.Errorf("%w: provide text, or filename", ErrInvalidRequest)
	}

	texts := s.index.ChunksFor(library.Sanitize(request.Filename), request.PageNumber)
	if len(texts) == 0 {
		return "", nil
	}

	return truncateOnRuneBoundary(strings.Join(texts, "\n\n"), maxQueryChars), nil
}

// truncateOnRuneBoundary shortens s to at most maxBytes, backing off so a
// multi-byte UTF-8 sequence is never split.
func truncateOnRuneBoundary(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}

	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}

// GenerateAudio runs the full script-then-speech pipeline for one request.
// Concurrent requests whose inputs produce the same script cache key are
// coalesced: the second arrival joins the in-flight computation.
func (s *Service) GenerateAudio(
	ctx context.Context,
	request GenerateAudioRequest,
) (*shared.AudioArtifact, error) {
	sourceText, err := s.resolveSourceText(request)
	if err != nil {
		return nil, wrapError(err, request.Filename)
	}

	mode := shared.ModeNarration
	if request.TwoSpeakers {
		mode = shared.ModeDialogue
	}

	hints := shared.StyleHints{
		Accent:         request.Accent,
		Style:          request.Style,
		Expressiveness: request.Expressiveness,
		Podcast:        request.Podcast,
		TwoSpeakers:    request.TwoSpeakers,
		EntirePDF:      request.EntirePDF,
	}

	flightKey := string(script.KeyFor(sourceText, mode, hints))

	result, err, _ := s.audioFlight.Do(flightKey, func() (any, error) {
		requestCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()

		voices := shared.VoiceConfig{Voices: request.Speakers, Style: request.Style}

		return s.generateAudio(requestCtx, sourceText, mode, hints, voices)
	})
	if err != nil {
		return nil, wrapError(err, request.Filename)
	}

	artifact, ok := result.(*shared.AudioArtifact)
	if !ok {
		return nil, wrapError(fmt.Errorf("%w: bad flight result", ErrInvalidRequest), "")
	}

	return artifact, nil
}

func (s *Service) generateAudio(
	ctx context.Context,
	sourceText string,
	mode shared.ScriptMode,
	hints shared.StyleHints,
	voices shared.VoiceConfig,
) (*shared.AudioArtifact, error) {
	produced, err := s.synthesizer.Synthesize(ctx, sourceText, mode, hints)
	if err != nil {
		return nil, err
	}

	artifact, err := s.dispatcher.SynthesizeScript(ctx, produced, voices)
	if err != nil {
		return nil, err
	}

	return artifact, nil
}

// resolveSourceText enforces the exactly-one-of input rule and loads the
// source material.
func (s *Service) resolveSourceText(request GenerateAudioRequest) (string, error) {
	text := strings.TrimSpace(request.Text)

	hasText := text != ""
	hasPage := request.Filename != "" && request.PageNumber > 0 && !request.EntirePDF
	hasEntire := request.Filename != "" && request.EntirePDF

	switch {
	case hasText && request.Filename == "":
		return text, nil
	case !hasText && hasPage:
		return s.pageText(request.Filename, request.PageNumber)
	case !hasText && hasEntire:
		return s.documentText(request.Filename)
	default:
		return "", fmt.Errorf(
			"%w: provide exactly one of text, filename+page_number, or filename+entire_pdf",
			ErrInvalidRequest,
		)
	}
}

func (s *Service) pageText(filename string, pageNumber int) (string, error) {
	name := library.Sanitize(filename)

	text, err := s.ingestor.ExtractPageText(s.library.PathFor(name), pageNumber)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf(
			"%w: no extractable text on page %d of '%s'",
			ErrInvalidRequest,
			pageNumber,
			name,
		)
	}

	return text, nil
}

// documentText aggregates a whole document's chunks, preferring the index
// and falling back to a fresh extraction for unindexed files.
func (s *Service) documentText(filename string) (string, error) {
	name := library.Sanitize(filename)

	texts := s.index.ChunksFor(name, 0)
	if len(texts) == 0 {
		chunks, err := s.ingestor.Ingest(s.library.PathFor(name))
		if err != nil {
			return "", err
		}

		for _, chunk := range chunks {
			texts = append(texts, chunk.Text)
		}
	}

	return truncateOnRuneBoundary(strings.Join(texts, "\n\n"), maxSourceChars), nil
}
