package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/pdf-audio-service/internal/shared"
)

// ProviderEdge is the tag of the edge-tts provider.
const ProviderEdge = "edge"

// Default neural voices for the two speaker slots.
const (
	DefaultEdgeVoiceA = "en-US-GuyNeural"
	DefaultEdgeVoiceB = "en-US-JennyNeural"
)

// ErrEdgeTTSFailed wraps edge-tts subprocess failures.
var ErrEdgeTTSFailed = errors.New("edge-tts execution failed")

// EdgeProvider synthesizes speech by invoking the edge-tts binary. Output is
// MP3 written to a scratch file and read back.
type EdgeProvider struct {
	voiceA         string
	voiceB         string
	timeoutSeconds int
	scratchDir     string
}

// NewEdgeProvider creates the provider. scratchDir receives transient output
// files; it is typically os.TempDir().
func NewEdgeProvider(voiceA, voiceB string, timeoutSeconds int, scratchDir string) *EdgeProvider {
	if voiceA == "" {
		voiceA = DefaultEdgeVoiceA
	}

	if voiceB == "" {
		voiceB = DefaultEdgeVoiceB
	}

	if scratchDir == "" {
		scratchDir = os.TempDir()
	}

	return &EdgeProvider{
		voiceA:         voiceA,
		voiceB:         voiceB,
		timeoutSeconds: timeoutSeconds,
		scratchDir:     scratchDir,
	}
}

// Name returns the provider tag.
func (e *EdgeProvider) Name() string { return ProviderEdge }

// SupportsMultiSpeaker reports one-call dialogue support.
func (e *EdgeProvider) SupportsMultiSpeaker() bool { return false }

// OutputFormat reports the container of synthesized bytes.
func (e *EdgeProvider) OutputFormat() Format { return FormatMP3 }

// DefaultVoice resolves the configured voice for a speaker label.
func (e *EdgeProvider) DefaultVoice(label string) string {
	if label == shared.SpeakerTwo {
		return e.voiceB
	}

	return e.voiceA
}

// Synthesize runs edge-tts for the text and returns the MP3 bytes.
func (e *EdgeProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = e.voiceA
	}

	outputFile, err := os.CreateTemp(e.scratchDir, "edge-tts-*.mp3")
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderEdge,
			Kind:     KindTransient,
			Err:      fmt.Errorf("create scratch file: %w", err),
		}
	}

	outputPath := outputFile.Name()

	_ = outputFile.Close()

	defer func() {
		_ = os.Remove(outputPath)
	}()

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(e.timeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "edge-tts",
		"--voice", voice,
		"--text", text,
		"--write-media", filepath.Clean(outputPath),
	)

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderEdge,
			Kind:     e.classify(runCtx, err, stderr.String()),
			Err: fmt.Errorf(
				"%w: %w (stderr: %s)",
				ErrEdgeTTSFailed,
				err,
				strings.TrimSpace(stderr.String()),
			),
		}
	}

	data, err := os.ReadFile(outputPath)
	if err != nil || len(data) == 0 {
		return nil, &ProviderError{
			Provider: ProviderEdge,
			Kind:     KindTransient,
			Err:      fmt.Errorf("%w: no output produced", ErrEdgeTTSFailed),
		}
	}

	return data, nil
}

func (e *EdgeProvider) classify(runCtx context.Context, err error, stderr string) Kind {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, exec.ErrNotFound):
		return KindPermanent
	case strings.Contains(stderr, "voice"):
		return KindInvalidVoice
	case strings.Contains(stderr, "403"):
		return KindAuthFailure
	default:
		return KindTransient
	}
}
