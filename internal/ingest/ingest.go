// Package ingest turns PDF files into ordered, cleaned, bounded text chunks.
package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/ledongthuc/pdf"

	"github.com/book-expert/pdf-audio-service/internal/shared"
)

var (
	// ErrInvalidDocument indicates the file could not be opened or parsed
	// as a PDF.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrEmptyExtraction indicates the document produced zero chunks, for
	// example a scanned PDF with no text layer.
	ErrEmptyExtraction = errors.New("no extractable text in document")
)

// Ingestor extracts and chunks PDF text.
type Ingestor struct {
	cleaner *Cleaner
	chunker *Chunker
	logger  *logger.Logger
}

// New creates an Ingestor chunking to maxChunkChars with overlapChars of
// overlap between adjacent chunks.
func New(maxChunkChars, overlapChars int, log *logger.Logger) *Ingestor {
	return &Ingestor{
		cleaner: NewCleaner(),
		chunker: NewChunker(maxChunkChars, overlapChars),
		logger:  log,
	}
}

// Ingest extracts the text of every page of the PDF at path and splits it
// into chunks. Pages without a text layer are retried with row-level
// extraction and skipped if still empty. A document yielding no chunks at all
// fails with ErrEmptyExtraction.
func (i *Ingestor) Ingest(path string) ([]shared.Chunk, error) {
	filename := filepath.Base(path)

	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PDF '%s': %w: %w", filename, ErrInvalidDocument, err)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			i.logger.Warn("Failed to close PDF '%s': %v", filename, closeErr)
		}
	}()

	var chunks []shared.Chunk

	totalPages := reader.NumPage()

	for pageNumber := 1; pageNumber <= totalPages; pageNumber++ {
		pageText := i.extractPage(reader, filename, pageNumber)
		if pageText == "" {
			continue
		}

		chunks = append(chunks, i.chunkPage(pageText, filename, pageNumber)...)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("document '%s': %w", filename, ErrEmptyExtraction)
	}

	return chunks, nil
}

// ExtractPageText returns the cleaned text of a single 1-based page.
func (i *Ingestor) ExtractPageText(path string, pageNumber int) (string, error) {
	filename := filepath.Base(path)

	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open PDF '%s': %w: %w", filename, ErrInvalidDocument, err)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			i.logger.Warn("Failed to close PDF '%s': %v", filename, closeErr)
		}
	}()

	if pageNumber < 1 || pageNumber > reader.NumPage() {
		return "", fmt.Errorf(
			"page %d out of range for '%s' (%d pages): %w",
			pageNumber,
			filename,
			reader.NumPage(),
			ErrInvalidDocument,
		)
	}

	return i.extractPage(reader, filename, pageNumber), nil
}

// extractPage pulls the text of one page, retrying with row-level extraction
// when the plain-text pass comes back empty.
func (i *Ingestor) extractPage(reader *pdf.Reader, filename string, pageNumber int) (text string) {
	// The pdf reader panics on some malformed content streams; a broken
	// page must not take down the whole document.
	defer func() {
		if recovered := recover(); recovered != nil {
			i.logger.Warn(
				"Recovered extracting page %d of '%s': %v",
				pageNumber,
				filename,
				recovered,
			)

			text = ""
		}
	}()

	page := reader.Page(pageNumber)
	if page.V.IsNull() {
		return ""
	}

	plain, err := page.GetPlainText(nil)
	if err == nil && strings.TrimSpace(plain) != "" {
		return i.cleaner.Clean(plain)
	}

	rowText := i.extractRows(page)
	if strings.TrimSpace(rowText) == "" {
		i.logger.Warn("Skipping page %d of '%s': no extractable text", pageNumber, filename)

		return ""
	}

	return i.cleaner.Clean(rowText)
}

// extractRows rebuilds page text from positioned rows. Some PDFs carry no
// usable font map for the plain-text pass but still expose row content.
func (i *Ingestor) extractRows(page pdf.Page) string {
	rows, err := page.GetTextByRow()
	if err != nil {
		return ""
	}

	var builder strings.Builder

	for _, row := range rows {
		for _, word := range row.Content {
			builder.WriteString(word.S)
			builder.WriteByte(' ')
		}

		builder.WriteByte('\n')
	}

	return builder.String()
}

// chunkPage splits one page's cleaned text into chunks with ascending section
// indices.
func (i *Ingestor) chunkPage(pageText, filename string, pageNumber int) []shared.Chunk {
	var chunks []shared.Chunk

	sectionIndex := 0

	for _, paragraph := range SplitParagraphs(pageText) {
		for _, piece := range i.chunker.Chunk(paragraph) {
			chunks = append(chunks, shared.Chunk{
				Text:         piece,
				Filename:     filename,
				PageNumber:   pageNumber,
				SectionIndex: sectionIndex,
				SectionTitle: SectionTitle(piece),
			})
			sectionIndex++
		}
	}

	return chunks
}
