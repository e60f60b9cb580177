package tts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/book-expert/logger"
)

// Basename hash length. Sixteen hex characters of a SHA-256 keep collisions
// cryptographically improbable while staying readable in directory listings.
const basenameHashChars = 16

// ClipCache maps deterministic clip basenames to files in the audio
// directory. Disk is the source of truth: the in-memory map is a read-through
// veneer rebuilt on startup by scanning the directory, so cached clips
// survive process restarts for free.
type ClipCache struct {
	dir    string
	logger *logger.Logger

	mu    sync.RWMutex
	known map[string]string
}

// NewClipCache creates the cache over the given audio directory, creating it
// if needed.
func NewClipCache(dir string, log *logger.Logger) (*ClipCache, error) {
	const dirPermission = 0o750

	err := os.MkdirAll(dir, dirPermission)
	if err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}

	return &ClipCache{
		dir:    dir,
		logger: log,
		known:  make(map[string]string),
	}, nil
}

// Dir returns the audio directory.
func (c *ClipCache) Dir() string { return c.dir }

// ClipBasename derives the deterministic clip filename from everything that
// changes the audio: text, voice, provider and style.
func ClipBasename(text, voice, providerTag, style string) string {
	digest := sha256.Sum256([]byte(text + "\x00" + voice + "\x00" + providerTag + "\x00" + style))

	return fmt.Sprintf("tts_%s_%s.mp3", hex.EncodeToString(digest[:])[:basenameHashChars], providerTag)
}

// ArtifactBasename derives the deterministic merged-artifact filename from
// the script text and the voices that rendered it.
func ArtifactBasename(scriptText, voiceA, voiceB, providerTag string) string {
	digest := sha256.Sum256([]byte(scriptText + "\x00" + voiceA + "\x00" + voiceB + "\x00" + providerTag))

	return fmt.Sprintf("mix_%s_%s.mp3", hex.EncodeToString(digest[:])[:basenameHashChars], providerTag)
}

// Path returns the absolute path a basename resolves to.
func (c *ClipCache) Path(basename string) string {
	return filepath.Join(c.dir, basename)
}

// Lookup reports whether a clip already exists, consulting the in-memory map
// first and the disk second. A disk hit repopulates the map.
func (c *ClipCache) Lookup(basename string) (string, bool) {
	c.mu.RLock()
	path, ok := c.known[basename]
	c.mu.RUnlock()

	if ok {
		return path, true
	}

	path = c.Path(basename)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return "", false
	}

	c.Store(basename)

	return path, true
}

// Store records a basename that now exists on disk.
func (c *ClipCache) Store(basename string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.known[basename] = c.Path(basename)
}

// Len returns the number of known clips.
func (c *ClipCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.known)
}

// Rebuild scans the audio directory and registers every synthesized file, so
// a restarted process serves prior clips without re-synthesis.
func (c *ClipCache) Rebuild() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan audio directory: %w", err)
	}

	count := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasPrefix(name, "tts_") && !strings.HasPrefix(name, "mix_") {
			continue
		}

		c.Store(name)

		count++
	}

	c.logger.Info("Rebuilt clip cache from %s: %d entries", c.dir, count)

	return nil
}
