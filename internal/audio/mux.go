package audio

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/pdf-audio-service/internal/shared"
)

// Clip references one synthesized audio file on disk and its public URL.
type Clip struct {
	Path string
	URL  string
}

// Tools is the slice of the Toolbox the muxer needs, extracted so tests can
// substitute a fake.
type Tools interface {
	Concat(ctx context.Context, clipPaths []string, outputPath string) error
	DurationMS(ctx context.Context, clipPath string) (int64, error)
}

// Muxer concatenates per-line clips into one artifact and computes chapter
// timestamps from measured durations.
type Muxer struct {
	tools  Tools
	logger *logger.Logger
}

// NewMuxer creates a Muxer using the given audio tools.
func NewMuxer(tools Tools, log *logger.Logger) *Muxer {
	return &Muxer{tools: tools, logger: log}
}

// Mux concatenates clips (clips[i] corresponds to lines[i]) into outputPath
// and returns the artifact with contiguous chapters. A concatenation failure
// degrades: the artifact points at the first clip, parts are listed, and
// chapter timestamps are relative to each clip.
func (m *Muxer) Mux(
	ctx context.Context,
	clips []Clip,
	lines []shared.Line,
	outputPath, outputURL string,
) (*shared.AudioArtifact, error) {
	if len(clips) == 0 || len(clips) != len(lines) {
		return nil, fmt.Errorf(
			"mux requires matching clips and lines, got %d and %d: %w",
			len(clips),
			len(lines),
			ErrConcatFailed,
		)
	}

	durations, err := m.measure(ctx, clips)
	if err != nil {
		return nil, err
	}

	concatErr := m.tools.Concat(ctx, clipPaths(clips), outputPath)
	if concatErr != nil {
		m.logger.Warn("Concatenation failed, falling back to parts: %v", concatErr)

		return m.degradedArtifact(clips, lines, durations), nil
	}

	return &shared.AudioArtifact{
		URL:      outputURL,
		Parts:    clipURLs(clips),
		Chapters: BuildChapters(lines, durations, clipURLs(clips)),
		Degraded: false,
	}, nil
}

// measure probes every clip's exact duration.
func (m *Muxer) measure(ctx context.Context, clips []Clip) ([]int64, error) {
	durations := make([]int64, len(clips))

	for i, clip := range clips {
		duration, err := m.tools.DurationMS(ctx, clip.Path)
		if err != nil {
			return nil, fmt.Errorf("probe clip %d: %w", i, err)
		}

		durations[i] = duration
	}

	return durations, nil
}

// degradedArtifact is the fallback-to-parts result: chapter timestamps are
// per-clip relative (each chapter starts at 0 within its own part).
func (m *Muxer) degradedArtifact(clips []Clip, lines []shared.Line, durations []int64) *shared.AudioArtifact {
	chapters := make([]shared.Chapter, len(lines))

	for i := range lines {
		chapters[i] = shared.Chapter{
			Index:   i,
			Speaker: lines[i].Speaker,
			Text:    lines[i].Text,
			StartMS: 0,
			EndMS:   durations[i],
			PartURL: clips[i].URL,
		}
	}

	return &shared.AudioArtifact{
		URL:      clips[0].URL,
		Parts:    clipURLs(clips),
		Chapters: chapters,
		Degraded: true,
	}
}

// BuildChapters lays measured durations end to end: chapter i starts where
// chapter i-1 ended and the first starts at zero.
func BuildChapters(lines []shared.Line, durations []int64, partURLs []string) []shared.Chapter {
	chapters := make([]shared.Chapter, len(lines))

	var cursor int64

	for i := range lines {
		chapter := shared.Chapter{
			Index:   i,
			Speaker: lines[i].Speaker,
			Text:    lines[i].Text,
			StartMS: cursor,
			EndMS:   cursor + durations[i],
		}

		if partURLs != nil {
			chapter.PartURL = partURLs[i]
		}

		chapters[i] = chapter
		cursor = chapter.EndMS
	}

	return chapters
}

func clipPaths(clips []Clip) []string {
	paths := make([]string, len(clips))
	for i, clip := range clips {
		paths[i] = clip.Path
	}

	return paths
}

func clipURLs(clips []Clip) []string {
	urls := make([]string, len(clips))
	for i, clip := range clips {
		urls[i] = clip.URL
	}

	return urls
}
