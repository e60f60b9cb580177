package script

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/book-expert/pdf-audio-service/internal/shared"
)

// signaturePrefixChars bounds how much source text feeds the cache key. The
// head of the source is enough to discriminate inputs while keeping key
// computation cheap for entire-PDF requests.
const signaturePrefixChars = 1000

var reKeyWhitespace = regexp.MustCompile(`\s+`)

// CacheKey identifies one synthesized script: same key, same script.
type CacheKey string

// KeyFor derives the deterministic cache key from the source text head and
// every setting that changes the produced script.
func KeyFor(sourceText string, mode shared.ScriptMode, hints shared.StyleHints) CacheKey {
	normalized := reKeyWhitespace.ReplaceAllString(strings.TrimSpace(sourceText), " ")
	if len(normalized) > signaturePrefixChars {
		normalized = normalized[:signaturePrefixChars]
	}

	digest := sha256.Sum256([]byte(normalized))

	signature := fmt.Sprintf(
		"%s|mode=%d|podcast=%t|two=%t|entire=%t|accent=%s|style=%s|expr=%s",
		hex.EncodeToString(digest[:]),
		mode,
		hints.Podcast,
		hints.TwoSpeakers,
		hints.EntirePDF,
		hints.Accent,
		hints.Style,
		hints.Expressiveness,
	)

	final := sha256.Sum256([]byte(signature))

	return CacheKey(hex.EncodeToString(final[:]))
}
