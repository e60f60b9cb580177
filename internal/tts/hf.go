package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProviderHF is the tag of the Hugging Face inference provider.
const ProviderHF = "hf"

// DefaultHFModel is used when no model is configured.
const DefaultHFModel = "nari-labs/Dia-1.6B"

// ErrHFRequestFailed wraps non-2xx responses from the inference API.
var ErrHFRequestFailed = errors.New("hugging face inference request failed")

const hfInferenceBaseURL = "https://api-inference.huggingface.co/models/"

// HFProvider synthesizes speech through the Hugging Face inference API.
// Output is MP3. The model has a single narrator voice.
type HFProvider struct {
	httpClient *http.Client
	token      string
	model      string
}

type hfRequest struct {
	Inputs string `json:"inputs"`
}

// NewHFProvider creates the provider. An empty token makes every call fail
// with an auth failure, which the dispatcher skips past.
func NewHFProvider(token, model string, timeoutSeconds int) *HFProvider {
	if model == "" {
		model = DefaultHFModel
	}

	return &HFProvider{
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		token:      token,
		model:      model,
	}
}

// Name returns the provider tag.
func (h *HFProvider) Name() string { return ProviderHF }

// SupportsMultiSpeaker reports one-call dialogue support.
func (h *HFProvider) SupportsMultiSpeaker() bool { return false }

// OutputFormat reports the container of synthesized bytes.
func (h *HFProvider) OutputFormat() Format { return FormatMP3 }

// DefaultVoice resolves the configured voice for a speaker label.
func (h *HFProvider) DefaultVoice(string) string { return h.model }

// Synthesize posts the text to the inference endpoint and returns MP3 bytes.
func (h *HFProvider) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	if h.token == "" {
		return nil, &ProviderError{
			Provider: ProviderHF,
			Kind:     KindAuthFailure,
			Err:      errors.New("no API token configured"),
		}
	}

	payload, err := json.Marshal(hfRequest{Inputs: text})
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderHF,
			Kind:     KindPermanent,
			Err:      fmt.Errorf("marshal request: %w", err),
		}
	}

	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		hfInferenceBaseURL+h.model,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderHF,
			Kind:     KindPermanent,
			Err:      fmt.Errorf("create request: %w", err),
		}
	}

	request.Header.Set("Authorization", "Bearer "+h.token)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "audio/mpeg")

	response, err := h.httpClient.Do(request)
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderHF,
			Kind:     httpTransportKind(err),
			Err:      fmt.Errorf("execute request: %w", err),
		}
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))

		return nil, &ProviderError{
			Provider: ProviderHF,
			Kind:     statusKind(response.StatusCode),
			Err: fmt.Errorf(
				"%w: HTTP %d: %s",
				ErrHFRequestFailed,
				response.StatusCode,
				bytes.TrimSpace(body),
			),
		}
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, &ProviderError{
			Provider: ProviderHF,
			Kind:     KindTransient,
			Err:      fmt.Errorf("read response: %w", err),
		}
	}

	if len(data) == 0 {
		return nil, &ProviderError{
			Provider: ProviderHF,
			Kind:     KindTransient,
			Err:      errors.New("empty audio response"),
		}
	}

	return data, nil
}
