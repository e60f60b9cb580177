package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/book-expert/pdf-audio-service/internal/library"
	"github.com/book-expert/pdf-audio-service/internal/llm"
	"github.com/book-expert/pdf-audio-service/internal/vectorindex"
)

const (
	citationSnippetChars = 500
	defaultInsightsK     = 5
	defaultMaxPerDoc     = 3

	insightsTemperature = 0.3
	insightsMaxTokens   = 2048
)

// insightsPayload is the JSON shape the model is instructed to return.
type insightsPayload struct {
	Summary        string   `json:"summary"`
	Insights       []string `json:"insights"`
	Facts          []string `json:"facts"`
	Contradictions []string `json:"contradictions"`
}

// Insights produces structured, citation-grounded insights for free text or
// a document page.
func (s *Service) Insights(ctx context.Context, request InsightsRequest) (*InsightsResponse, error) {
	text := strings.TrimSpace(request.Text)
	if text == "" {
		if request.Filename == "" || request.PageNumber < 1 {
			return nil, wrapError(
				fmt.Errorf("%w: provide text, or filename + page_number", ErrInvalidRequest),
				request.Filename,
			)
		}

		pageText, err := s.pageText(request.Filename, request.PageNumber)
		if err != nil {
			return nil, wrapError(err, request.Filename)
		}

		text = pageText
	}

	citations := s.retrieveCitations(ctx, text, request.K)

	payload, err := s.generateInsights(ctx, text, citations)
	if err != nil {
		return nil, wrapError(err, request.Filename)
	}

	return &InsightsResponse{
		Summary:        payload.Summary,
		Insights:       payload.Insights,
		Facts:          payload.Facts,
		Contradictions: payload.Contradictions,
		Citations:      citations,
	}, nil
}

// retrieveCitations pulls the top related chunks for grounding. Retrieval
// failures degrade to no citations rather than failing the request.
func (s *Service) retrieveCitations(ctx context.Context, text string, k int) []Citation {
	if k <= 0 {
		k = defaultInsightsK
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		s.logger.Warn("Citation retrieval skipped: %v", err)

		return nil
	}

	results, err := s.index.Search(queryVector, vectorindex.SearchOptions{K: k})
	if err != nil {
		s.logger.Warn("Citation retrieval skipped: %v", err)

		return nil
	}

	citations := make([]Citation, 0, len(results))

	for _, result := range results {
		snippet := truncateOnRuneBoundary(result.Chunk.Text, citationSnippetChars)

		citations = append(citations, Citation{
			Filename:   result.Chunk.Filename,
			PageNumber: result.Chunk.PageNumber,
			Snippet:    snippet,
		})
	}

	return citations
}

func (s *Service) generateInsights(
	ctx context.Context,
	text string,
	citations []Citation,
) (*insightsPayload, error) {
	prompt := buildInsightsPrompt(text, citations)

	response, err := s.generator.Generate(ctx, prompt, llm.GenerateOptions{
		Temperature:    insightsTemperature,
		MaxTokens:      insightsMaxTokens,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("insights generation: %w", err)
	}

	var payload insightsPayload

	err = json.Unmarshal([]byte(response), &payload)
	if err != nil {
		return nil, fmt.Errorf("parse insights response: %w", err)
	}

	return &payload, nil
}

func buildInsightsPrompt(text string, citations []Citation) string {
	var builder strings.Builder

	builder.WriteString(
		"You are an assistant extracting structured insights from a document passage " +
			"and optional retrieved references.\n",
	)
	builder.WriteString("Return JSON with exactly these keys:\n")
	builder.WriteString("- \"summary\": short paragraph summarizing the context (60-120 words).\n")
	builder.WriteString("- \"insights\": array of 3-7 concise key takeaways.\n")
	builder.WriteString("- \"facts\": array of factual statements supported by the text.\n")
	builder.WriteString(
		"- \"contradictions\": array of potential inconsistencies or conflicts (empty if none).\n\n",
	)

	builder.WriteString("Primary Context:\n")
	builder.WriteString(text)
	builder.WriteString("\n\nRetrieved References (optional):\n")

	if len(citations) == 0 {
		builder.WriteString("None")
	}

	for i, citation := range citations {
		fmt.Fprintf(
			&builder,
			"[CITATION %d] file=%s page=%d: %s\n",
			i+1,
			citation.Filename,
			citation.PageNumber,
			citation.Snippet,
		)
	}

	return builder.String()
}

// crossPayload is the JSON shape for cross-document analysis.
type crossPayload struct {
	Agreements     []Claim `json:"agreements"`
	Contradictions []Claim `json:"contradictions"`
}

// CrossInsights compares indexed documents and reports agreements and
// contradictions with per-claim citations.
func (s *Service) CrossInsights(
	ctx context.Context,
	request CrossInsightsRequest,
) (*CrossInsightsResponse, error) {
	filenames := request.Filenames
	if len(filenames) == 0 {
		filenames = s.index.Files()
	}

	if len(filenames) < 2 {
		return nil, wrapError(
			fmt.Errorf("%w: cross-document insights need at least two documents", ErrInvalidRequest),
			"",
		)
	}

	maxPerDoc := request.MaxPerDoc
	if maxPerDoc <= 0 {
		maxPerDoc = defaultMaxPerDoc
	}

	if request.Deep {
		maxPerDoc *= 2
	}

	prompt := s.buildCrossPrompt(filenames, maxPerDoc, request.Focus)

	response, err := s.generator.Generate(ctx, prompt, llm.GenerateOptions{
		Temperature:    insightsTemperature,
		MaxTokens:      insightsMaxTokens,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return nil, wrapError(fmt.Errorf("cross-insights generation: %w", err), "")
	}

	var payload crossPayload

	err = json.Unmarshal([]byte(response), &payload)
	if err != nil {
		return nil, wrapError(fmt.Errorf("parse cross-insights response: %w", err), "")
	}

	return &CrossInsightsResponse{
		Agreements:     payload.Agreements,
		Contradictions: payload.Contradictions,
	}, nil
}

func (s *Service) buildCrossPrompt(filenames []string, maxPerDoc int, focus string) string {
	var builder strings.Builder

	builder.WriteString(
		"You are comparing excerpts from multiple documents. Identify claims the " +
			"documents agree on and claims where they contradict each other.\n",
	)
	builder.WriteString("Return JSON with keys \"agreements\" and \"contradictions\", each an array of ")
	builder.WriteString(
		"{\"statement\": string, \"sources\": [{\"filename\": string, \"page_number\": int, \"snippet\": string}]}.\n",
	)
	builder.WriteString("Cite every claim with the excerpts that support it.\n")

	if focus != "" {
		fmt.Fprintf(&builder, "Focus the analysis on: %s.\n", focus)
	}

	for _, filename := range filenames {
		name := library.Sanitize(filename)

		texts := s.index.ChunksFor(name, 0)
		if len(texts) > maxPerDoc {
			texts = texts[:maxPerDoc]
		}

		fmt.Fprintf(&builder, "\n### DOCUMENT %s:\n", name)

		for _, text := range texts {
			builder.WriteString(text)
			builder.WriteString("\n---\n")
		}
	}

	return builder.String()
}
