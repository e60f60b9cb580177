package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

var (
	// ErrConcatFailed indicates the concatenation subprocess failed.
	ErrConcatFailed = errors.New("audio concatenation failed")
	// ErrProbeFailed indicates the duration probe subprocess failed.
	ErrProbeFailed = errors.New("audio probe failed")
)

// Target encoding for every clip and artifact.
const (
	TargetSampleRate = 44100
	TargetBitrate    = "160k"
)

const defaultFilePermission = 0o600

// Toolbox invokes ffmpeg and ffprobe as external processes with per-call
// timeouts.
type Toolbox struct {
	logger         *logger.Logger
	timeoutSeconds int
}

// NewToolbox creates a Toolbox. Calls are bounded by timeoutSeconds each.
func NewToolbox(timeoutSeconds int, log *logger.Logger) *Toolbox {
	return &Toolbox{logger: log, timeoutSeconds: timeoutSeconds}
}

// NormalizeToMP3 re-encodes the input file to the uniform target format
// (MP3, 44.1 kHz, 160 kbps, channel count preserved) at outputPath. The
// write is temp-then-rename so a half-written clip is never observable under
// its final name.
func (t *Toolbox) NormalizeToMP3(ctx context.Context, inputPath, outputPath string) error {
	tempPath := outputPath + ".tmp.mp3"

	args := []string{
		"-y",
		"-i", filepath.Clean(inputPath),
		"-ar", strconv.Itoa(TargetSampleRate),
		"-b:a", TargetBitrate,
		"-f", "mp3",
		tempPath,
	}

	err := t.runFFmpeg(ctx, args)
	if err != nil {
		removeQuietly(tempPath)

		return err
	}

	err = os.Rename(tempPath, outputPath)
	if err != nil {
		removeQuietly(tempPath)

		return fmt.Errorf("rename normalized clip: %w", err)
	}

	return nil
}

// Concat joins the given clips, in order, into one MP3 at outputPath using
// the concat demuxer, re-encoding so mismatched inputs still merge cleanly.
func (t *Toolbox) Concat(ctx context.Context, clipPaths []string, outputPath string) error {
	listPath, err := t.writeConcatList(clipPaths, outputPath)
	if err != nil {
		return err
	}

	defer removeQuietly(listPath)

	tempPath := outputPath + ".tmp.mp3"

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-b:a", TargetBitrate,
		"-f", "mp3",
		tempPath,
	}

	err = t.runFFmpeg(ctx, args)
	if err != nil {
		removeQuietly(tempPath)

		return fmt.Errorf("%w: %w", ErrConcatFailed, err)
	}

	err = os.Rename(tempPath, outputPath)
	if err != nil {
		removeQuietly(tempPath)

		return fmt.Errorf("%w: rename artifact: %w", ErrConcatFailed, err)
	}

	return nil
}

// writeConcatList writes the ffmpeg concat demuxer manifest next to the
// output file.
func (t *Toolbox) writeConcatList(clipPaths []string, outputPath string) (string, error) {
	var builder strings.Builder

	for _, clipPath := range clipPaths {
		absolute, err := filepath.Abs(clipPath)
		if err != nil {
			return "", fmt.Errorf("resolve clip path '%s': %w", clipPath, err)
		}

		// Single quotes in paths must be escaped for the demuxer.
		escaped := strings.ReplaceAll(absolute, "'", `'\''`)
		fmt.Fprintf(&builder, "file '%s'\n", escaped)
	}

	listPath := outputPath + ".list.txt"

	err := os.WriteFile(listPath, []byte(builder.String()), defaultFilePermission)
	if err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}

	return listPath, nil
}

// DurationMS measures a clip's exact duration in milliseconds with ffprobe.
func (t *Toolbox) DurationMS(ctx context.Context, clipPath string) (int64, error) {
	probeCtx, cancel := t.callContext(ctx)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		filepath.Clean(clipPath),
	)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return 0, fmt.Errorf(
			"%w: ffprobe '%s': %w (stderr: %s)",
			ErrProbeFailed,
			filepath.Base(clipPath),
			err,
			stderr.String(),
		)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse duration: %w", ErrProbeFailed, err)
	}

	return int64(seconds*1000.0 + 0.5), nil
}

func (t *Toolbox) runFFmpeg(ctx context.Context, args []string) error {
	runCtx, cancel := t.callContext(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "ffmpeg", args...)

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf(
			"ffmpeg execution failed: %w (stderr: %s)",
			err,
			tail(stderr.String(), 512),
		)
	}

	return nil
}

func (t *Toolbox) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, time.Duration(t.timeoutSeconds)*time.Second)
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}

// tail returns at most n trailing bytes of s; ffmpeg stderr is verbose and
// only the end carries the failure.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[len(s)-n:]
}
