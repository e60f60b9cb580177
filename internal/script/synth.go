// Package script synthesizes narration or two-speaker dialogue scripts from
// source text through an LLM, behind a signature-keyed cache.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"golang.org/x/sync/singleflight"

	"github.com/book-expert/pdf-audio-service/internal/llm"
	"github.com/book-expert/pdf-audio-service/internal/shared"
)

// ErrScriptSynthFailed indicates the LLM call failed or its response could
// not be parsed into a valid script.
var ErrScriptSynthFailed = errors.New("script synthesis failed")

const (
	scriptFilePrefix = "script_"
	scriptFileSuffix = ".json"

	dirPermission  = 0o750
	filePermission = 0o600
)

// Generator is the slice of the LLM backend the synthesizer needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error)
}

// Synthesizer converts source text into scripts. The cache is process-wide
// and unbounded, and every produced script is also persisted to disk keyed
// by its cache key, so a restarted process serves prior scripts without an
// LLM call and downstream clip names stay stable across restarts. Concurrent
// requests for the same key are coalesced so the LLM is called at most once
// per key.
type Synthesizer struct {
	generator   Generator
	logger      *logger.Logger
	temperature float64
	maxTokens   int
	dir         string

	mu     sync.RWMutex
	cache  map[CacheKey]*shared.Script
	flight singleflight.Group
}

// NewSynthesizer creates a Synthesizer using the given generator. dir is the
// on-disk script cache directory, created if needed.
func NewSynthesizer(
	generator Generator,
	temperature float64,
	maxTokens int,
	dir string,
	log *logger.Logger,
) (*Synthesizer, error) {
	err := os.MkdirAll(dir, dirPermission)
	if err != nil {
		return nil, fmt.Errorf("create script cache directory: %w", err)
	}

	return &Synthesizer{
		generator:   generator,
		logger:      log,
		temperature: temperature,
		maxTokens:   maxTokens,
		dir:         dir,
		cache:       make(map[CacheKey]*shared.Script),
	}, nil
}

// Synthesize returns the script for the given source and settings, serving
// from cache when the key has been produced before.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	sourceText string,
	mode shared.ScriptMode,
	hints shared.StyleHints,
) (*shared.Script, error) {
	key := KeyFor(sourceText, mode, hints)

	if cached := s.lookup(key); cached != nil {
		return cached, nil
	}

	result, err, _ := s.flight.Do(string(key), func() (any, error) {
		// Double-check under the flight: a previous winner may have
		// populated the cache between lookup and Do.
		if cached := s.lookup(key); cached != nil {
			return cached, nil
		}

		produced, synthErr := s.synthesize(ctx, sourceText, mode, hints)
		if synthErr != nil {
			return nil, synthErr
		}

		s.store(key, produced)

		return produced, nil
	})
	if err != nil {
		return nil, err
	}

	produced, ok := result.(*shared.Script)
	if !ok {
		return nil, ErrScriptSynthFailed
	}

	return produced, nil
}

func (s *Synthesizer) synthesize(
	ctx context.Context,
	sourceText string,
	mode shared.ScriptMode,
	hints shared.StyleHints,
) (*shared.Script, error) {
	prompt := BuildPrompt(sourceText, mode, hints)

	response, err := s.generator.Generate(ctx, prompt, llm.GenerateOptions{
		Temperature:    s.temperature,
		MaxTokens:      s.maxTokens,
		ResponseFormat: llm.FormatText,
	})
	if err != nil {
		// Cancellation is not a synthesis failure; the caller sees the
		// context error and no cache entry is written.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("synthesis canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: %w", ErrScriptSynthFailed, err)
	}

	response = strings.TrimSpace(response)
	if response == "" {
		return nil, fmt.Errorf("%w: empty response", ErrScriptSynthFailed)
	}

	if mode == shared.ModeNarration {
		return &shared.Script{Mode: shared.ModeNarration, Text: response}, nil
	}

	parsed, parseErr := ParseDialogue(response)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrScriptSynthFailed, parseErr)
	}

	return parsed, nil
}

// lookup serves from memory first and falls back to the on-disk copy, so
// scripts survive even when Rebuild was never run.
func (s *Synthesizer) lookup(key CacheKey) *shared.Script {
	s.mu.RLock()
	cached := s.cache[key]
	s.mu.RUnlock()

	if cached != nil {
		return cached
	}

	loaded := s.loadFromDisk(key)
	if loaded == nil {
		return nil
	}

	s.mu.Lock()
	s.cache[key] = loaded
	s.mu.Unlock()

	return loaded
}

// store records the script in memory and persists it to disk under its key.
// The write is temp-then-rename so a half-written script is never read back.
func (s *Synthesizer) store(key CacheKey, produced *shared.Script) {
	s.mu.Lock()
	s.cache[key] = produced
	s.mu.Unlock()

	data, err := json.Marshal(produced)
	if err != nil {
		s.logger.Warn("Failed to encode script %s for persistence: %v", key, err)

		return
	}

	finalPath := s.pathFor(key)
	tempPath := finalPath + ".tmp"

	err = os.WriteFile(tempPath, data, filePermission)
	if err != nil {
		s.logger.Warn("Failed to persist script %s: %v", key, err)

		return
	}

	err = os.Rename(tempPath, finalPath)
	if err != nil {
		_ = os.Remove(tempPath)

		s.logger.Warn("Failed to commit script %s: %v", key, err)
	}
}

func (s *Synthesizer) pathFor(key CacheKey) string {
	return filepath.Join(s.dir, scriptFilePrefix+string(key)+scriptFileSuffix)
}

func (s *Synthesizer) loadFromDisk(key CacheKey) *shared.Script {
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		return nil
	}

	var loaded shared.Script

	err = json.Unmarshal(data, &loaded)
	if err != nil {
		s.logger.Warn("Ignoring unreadable script cache entry %s: %v", key, err)

		return nil
	}

	return &loaded
}

// Rebuild scans the script cache directory and loads every persisted script
// into memory, so a restarted process serves prior scripts without LLM
// calls.
func (s *Synthesizer) Rebuild() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("scan script cache directory: %w", err)
	}

	count := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, scriptFilePrefix) || !strings.HasSuffix(name, scriptFileSuffix) {
			continue
		}

		key := CacheKey(strings.TrimSuffix(strings.TrimPrefix(name, scriptFilePrefix), scriptFileSuffix))

		loaded := s.loadFromDisk(key)
		if loaded == nil {
			continue
		}

		s.mu.Lock()
		s.cache[key] = loaded
		s.mu.Unlock()

		count++
	}

	s.logger.Info("Rebuilt script cache from %s: %d entries", s.dir, count)

	return nil
}

// CacheSize returns the number of cached scripts.
func (s *Synthesizer) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.cache)
}
