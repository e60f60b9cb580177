// Package tts renders scripts and script lines to audio through an ordered
// chain of speech providers with per-clip disk caching.
package tts

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a provider failure into the common taxonomy the dispatcher
// acts on. Every provider maps its native failures onto these kinds.
type Kind int

// Failure kinds.
const (
	KindTransient Kind = iota
	KindRateLimited
	KindTimeout
	KindAuthFailure
	KindInvalidVoice
	KindPermanent
)

// String returns the lowercase tag used in logs.
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindAuthFailure:
		return "auth_failure"
	case KindInvalidVoice:
		return "invalid_voice"
	case KindPermanent:
		return "permanent"
	case KindTransient:
		return "transient"
	default:
		return "transient"
	}
}

// ProviderError wraps a provider-native failure with its taxonomy kind.
type ProviderError struct {
	Provider string
	Kind     Kind
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap exposes the underlying failure.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from an error chain, defaulting to
// transient for unclassified failures.
func KindOf(err error) Kind {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind
	}

	return KindTransient
}

// Format is the container a provider's Synthesize returns.
type Format int

// Provider output formats.
const (
	FormatMP3 Format = iota
	FormatWAV
)

// Provider is one speech backend in the fallback chain.
type Provider interface {
	// Name returns the stable tag embedded in clip basenames.
	Name() string
	// SupportsMultiSpeaker reports whether the provider can render a full
	// two-speaker dialogue in one call.
	SupportsMultiSpeaker() bool
	// OutputFormat is the container of the bytes Synthesize returns.
	OutputFormat() Format
	// DefaultVoice resolves the provider's configured voice for a
	// normalized speaker label.
	DefaultVoice(label string) string
	// Synthesize renders one text to audio bytes with the given voice.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// MultiSpeakerProvider renders an entire labeled dialogue in one call.
type MultiSpeakerProvider interface {
	Provider
	SynthesizeDialogue(ctx context.Context, scriptText, voiceA, voiceB string) ([]byte, error)
}
