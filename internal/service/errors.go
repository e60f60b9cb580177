package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/book-expert/pdf-audio-service/internal/embed"
	"github.com/book-expert/pdf-audio-service/internal/ingest"
	"github.com/book-expert/pdf-audio-service/internal/script"
	"github.com/book-expert/pdf-audio-service/internal/tts"
	"github.com/book-expert/pdf-audio-service/internal/vectorindex"
)

// ErrInvalidRequest indicates missing or inconsistent request inputs.
var ErrInvalidRequest = errors.New("invalid request")

// Error codes carried on APIError. Codes ending in a 4xx-equivalent are
// caller mistakes; the rest are server-side and retryable where noted.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidDocument     = "invalid_document"
	CodeEmptyExtraction     = "empty_extraction"
	CodeDimensionMismatch   = "dimension_mismatch"
	CodeEmbedderUnavailable = "embedder_unavailable"
	CodeScriptSynthFailed   = "script_synth_failed"
	CodeAllProvidersFailed  = "all_providers_failed"
	CodeCanceled            = "canceled"
	CodeInternal            = "internal"
)

// APIError is the structured error the request surface returns: a taxonomy
// code, a human-readable reason, a correlation identifier and, where
// applicable, the offending input.
type APIError struct {
	Code          string `json:"code"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id"`
	Input         string `json:"input,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Code, e.CorrelationID, e.Reason)
}

// Unwrap exposes the underlying failure for errors.Is checks.
func (e *APIError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the caller may usefully retry.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case CodeEmbedderUnavailable, CodeScriptSynthFailed, CodeAllProvidersFailed:
		return true
	default:
		return false
	}
}

// wrapError classifies an internal failure into the API taxonomy, stamping a
// fresh correlation identifier.
func wrapError(err error, input string) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	code := CodeInternal

	switch {
	case errors.Is(err, context.Canceled):
		code = CodeCanceled
	case errors.Is(err, ErrInvalidRequest):
		code = CodeInvalidRequest
	case errors.Is(err, ingest.ErrEmptyExtraction):
		code = CodeEmptyExtraction
	case errors.Is(err, ingest.ErrInvalidDocument):
		code = CodeInvalidDocument
	case errors.Is(err, vectorindex.ErrDimensionMismatch):
		code = CodeDimensionMismatch
	case errors.Is(err, embed.ErrEmbedderUnavailable):
		code = CodeEmbedderUnavailable
	case errors.Is(err, script.ErrScriptSynthFailed), errors.Is(err, script.ErrMalformedScript):
		code = CodeScriptSynthFailed
	case errors.Is(err, tts.ErrAllProvidersFailed):
		code = CodeAllProvidersFailed
	}

	return &APIError{
		Code:          code,
		Reason:        err.Error(),
		CorrelationID: uuid.NewString(),
		Input:         input,
		cause:         err,
	}
}
