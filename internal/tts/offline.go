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
)

// ProviderOffline is the tag of the espeak-ng fallback provider.
const ProviderOffline = "offline"

// DefaultOfflineVoice is the espeak-ng voice used when none is configured.
const DefaultOfflineVoice = "en-us"

// ErrOfflineTTSFailed wraps espeak-ng subprocess failures.
var ErrOfflineTTSFailed = errors.New("espeak-ng execution failed")

// OfflineProvider is the last-resort provider: local espeak-ng synthesis
// with no network dependency. Output is WAV.
type OfflineProvider struct {
	voice          string
	timeoutSeconds int
	scratchDir     string
}

// NewOfflineProvider creates the provider.
func NewOfflineProvider(voice string, timeoutSeconds int, scratchDir string) *OfflineProvider {
	if voice == "" {
		voice = DefaultOfflineVoice
	}

	if scratchDir == "" {
		scratchDir = os.TempDir()
	}

	return &OfflineProvider{
		voice:          voice,
		timeoutSeconds: timeoutSeconds,
		scratchDir:     scratchDir,
	}
}

// Name returns the provider tag.
func (o *OfflineProvider) Name() string { return ProviderOffline }

// SupportsMultiSpeaker reports one-call dialogue support.
func (o *OfflineProvider) SupportsMultiSpeaker() bool { return false }

// OutputFormat reports the container of synthesized bytes.
func (o *OfflineProvider) OutputFormat() Format { return FormatWAV }

// DefaultVoice resolves the configured voice for a speaker label. espeak-ng
// has one configured voice for both slots.
func (o *OfflineProvider) DefaultVoice(string) string { return o.voice }

// Synthesize runs espeak-ng for the text and returns the WAV bytes.
func (o *OfflineProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = o.voice
	}

	outputFile, err := os.CreateTemp(o.scratchDir, "espeak-*.wav")
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderOffline,
			Kind:     KindTransient,
			Err:      fmt.Errorf("create scratch file: %w", err),
		}
	}

	outputPath := outputFile.Name()

	_ = outputFile.Close()

	defer func() {
		_ = os.Remove(outputPath)
	}()

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(o.timeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "espeak-ng",
		"-v", voice,
		"-w", filepath.Clean(outputPath),
		text,
	)

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		kind := KindTransient

		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			kind = KindTimeout
		case errors.Is(err, exec.ErrNotFound):
			kind = KindPermanent
		case strings.Contains(stderr.String(), "voice"):
			kind = KindInvalidVoice
		}

		return nil, &ProviderError{
			Provider: ProviderOffline,
			Kind:     kind,
			Err: fmt.Errorf(
				"%w: %w (stderr: %s)",
				ErrOfflineTTSFailed,
				err,
				strings.TrimSpace(stderr.String()),
			),
		}
	}

	data, err := os.ReadFile(outputPath)
	if err != nil || len(data) == 0 {
		return nil, &ProviderError{
			Provider: ProviderOffline,
			Kind:     KindTransient,
			Err:      fmt.Errorf("%w: no output produced", ErrOfflineTTSFailed),
		}
	}

	return data, nil
}
