package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ProviderGoogle is the tag of the Google translate speech provider.
const ProviderGoogle = "google"

// ErrGoogleTTSFailed wraps non-2xx responses from the endpoint.
var ErrGoogleTTSFailed = errors.New("google TTS request failed")

const googleTTSEndpoint = "https://translate.google.com/translate_tts"

// GoogleProvider synthesizes speech through the public translate speech
// endpoint. Output is MP3; there is no voice catalog, only a language code,
// so both speaker slots share one voice.
type GoogleProvider struct {
	httpClient *http.Client
	language   string
}

// NewGoogleProvider creates the provider for the given language code
// (for example "en").
func NewGoogleProvider(language string, timeoutSeconds int) *GoogleProvider {
	if language == "" {
		language = "en"
	}

	return &GoogleProvider{
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		language:   language,
	}
}

// Name returns the provider tag.
func (g *GoogleProvider) Name() string { return ProviderGoogle }

// SupportsMultiSpeaker reports one-call dialogue support.
func (g *GoogleProvider) SupportsMultiSpeaker() bool { return false }

// OutputFormat reports the container of synthesized bytes.
func (g *GoogleProvider) OutputFormat() Format { return FormatMP3 }

// DefaultVoice resolves the configured voice for a speaker label. The
// endpoint keys on language, not voice, so every label maps to it.
func (g *GoogleProvider) DefaultVoice(string) string { return g.language }

// Synthesize fetches MP3 speech for the text. The voice argument is treated
// as a language code.
func (g *GoogleProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == "" {
		voice = g.language
	}

	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("client", "tw-ob")
	query.Set("tl", voice)
	query.Set("q", text)

	requestURL := googleTTSEndpoint + "?" + query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderGoogle,
			Kind:     KindPermanent,
			Err:      fmt.Errorf("create request: %w", err),
		}
	}

	response, err := g.httpClient.Do(request)
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderGoogle,
			Kind:     httpTransportKind(err),
			Err:      fmt.Errorf("execute request: %w", err),
		}
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &ProviderError{
			Provider: ProviderGoogle,
			Kind:     statusKind(response.StatusCode),
			Err:      fmt.Errorf("%w: HTTP %d", ErrGoogleTTSFailed, response.StatusCode),
		}
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderGoogle,
			Kind:     KindTransient,
			Err:      fmt.Errorf("read response: %w", err),
		}
	}

	return data, nil
}

// statusKind maps an HTTP status onto the failure taxonomy.
func statusKind(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailure
	case status == http.StatusServiceUnavailable:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// httpTransportKind classifies client-side transport failures.
func httpTransportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	return KindTransient
}
