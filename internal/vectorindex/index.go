// Package vectorindex provides an in-memory inner-product index over text
// chunks with page-level deduplication.
package vectorindex

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/book-expert/pdf-audio-service/internal/shared"
)

// ErrDimensionMismatch indicates a vector whose dimension differs from the
// index's fixed dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrLengthMismatch indicates chunks and vectors of different lengths were
// passed to Add.
var ErrLengthMismatch = errors.New("chunks and vectors length mismatch")

// DefaultFetchFactor is how many candidates are ranked per requested result
// before page-level deduplication.
const DefaultFetchFactor = 3

// Result is one search hit: the chunk, its inner-product score in [-1,1] and
// the derived distance 1-score.
type Result struct {
	Chunk    shared.Chunk
	Score    float64
	Distance float64
}

// SearchOptions tune one search call.
type SearchOptions struct {
	// K bounds the result count. Defaults to 5.
	K int
	// FetchK bounds the pre-dedup candidate count. Defaults to 3*K.
	FetchK int
	// MinScore drops results scoring below it when non-nil.
	MinScore *float64
	// Exclude removes entries matching (filename, page) before ranking.
	Exclude func(filename string, pageNumber int) bool
}

type entry struct {
	chunk  shared.Chunk
	vector []float32
}

// Index is an append-only in-memory store of (chunk, vector) pairs. Readers
// run concurrently; writers are serialized.
type Index struct {
	mu        sync.RWMutex
	dimension int
	entries   []entry
}

// New creates an index. A zero dimension is fixed by the first Add.
func New(dimension int) *Index {
	return &Index{dimension: dimension}
}

// Add appends chunks with their vectors. All vectors must match the index
// dimension.
func (x *Index) Add(chunks []shared.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrLengthMismatch, len(chunks), len(vectors))
	}

	if len(chunks) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dimension == 0 {
		x.dimension = len(vectors[0])
	}

	for i, vector := range vectors {
		if len(vector) != x.dimension {
			return fmt.Errorf(
				"%w: index=%d, incoming=%d (chunk %d)",
				ErrDimensionMismatch,
				x.dimension,
				len(vector),
				i,
			)
		}
	}

	for i := range chunks {
		x.entries = append(x.entries, entry{chunk: chunks[i], vector: vectors[i]})
	}

	return nil
}

// Len returns the number of indexed entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return len(x.entries)
}

// Dimension returns the fixed vector dimension, or zero before the first Add.
func (x *Index) Dimension() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return x.dimension
}

// HasFile reports whether any entry came from the given filename.
func (x *Index) HasFile(filename string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	for i := range x.entries {
		if x.entries[i].chunk.Filename == filename {
			return true
		}
	}

	return false
}

// ChunksFor returns the texts of all chunks for a filename, restricted to one
// page when pageNumber is positive. Order follows insertion order.
func (x *Index) ChunksFor(filename string, pageNumber int) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var texts []string

	for i := range x.entries {
		chunk := &x.entries[i].chunk
		if chunk.Filename != filename {
			continue
		}

		if pageNumber > 0 && chunk.PageNumber != pageNumber {
			continue
		}

		texts = append(texts, chunk.Text)
	}

	return texts
}

// Files returns the distinct filenames present in the index, in first-seen
// order.
func (x *Index) Files() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]bool)

	var files []string

	for i := range x.entries {
		name := x.entries[i].chunk.Filename
		if !seen[name] {
			seen[name] = true

			files = append(files, name)
		}
	}

	return files
}

// Search ranks all entries by inner product against the query vector
// (cosine similarity for unit vectors), deduplicates per (filename, page)
// keeping the highest-scoring chunk, and returns at most K results. Ordering
// is deterministic: ties break by insertion order.
func (x *Index) Search(query []float32, opts SearchOptions) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.entries) == 0 {
		return nil, nil
	}

	if len(query) != x.dimension {
		return nil, fmt.Errorf(
			"%w: index=%d, query=%d",
			ErrDimensionMismatch,
			x.dimension,
			len(query),
		)
	}

	k := opts.K
	if k <= 0 {
		k = 5
	}

	fetchK := opts.FetchK
	if fetchK <= 0 {
		fetchK = DefaultFetchFactor * k
	}

	ranked := x.rank(query, opts.Exclude)
	if len(ranked) > fetchK {
		ranked = ranked[:fetchK]
	}

	results := x.dedupByPage(ranked)
	if len(results) > k {
		results = results[:k]
	}

	if opts.MinScore != nil {
		results = filterByScore(results, *opts.MinScore)
	}

	return results, nil
}

type scored struct {
	position int
	score    float64
}

func (x *Index) rank(query []float32, exclude func(string, int) bool) []scored {
	ranked := make([]scored, 0, len(x.entries))

	for position := range x.entries {
		chunk := &x.entries[position].chunk
		if exclude != nil && exclude(chunk.Filename, chunk.PageNumber) {
			continue
		}

		ranked = append(ranked, scored{
			position: position,
			score:    innerProduct(query, x.entries[position].vector),
		})
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}

		return ranked[a].position < ranked[b].position
	})

	return ranked
}

// dedupByPage keeps only the first (highest-scoring) hit per
// (filename, page) pair. Input is already sorted by descending score.
func (x *Index) dedupByPage(ranked []scored) []Result {
	type pageKey struct {
		filename string
		page     int
	}

	seen := make(map[pageKey]bool, len(ranked))
	results := make([]Result, 0, len(ranked))

	for _, candidate := range ranked {
		chunk := x.entries[candidate.position].chunk

		key := pageKey{filename: chunk.Filename, page: chunk.PageNumber}
		if seen[key] {
			continue
		}

		seen[key] = true

		results = append(results, Result{
			Chunk:    chunk,
			Score:    candidate.score,
			Distance: 1.0 - candidate.score,
		})
	}

	return results
}

func filterByScore(results []Result, minScore float64) []Result {
	kept := results[:0]

	for _, result := range results {
		if result.Score >= minScore {
			kept = append(kept, result)
		}
	}

	return kept
}

func innerProduct(a []float32, b []float32) float64 {
	var sum float64

	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}

	return sum
}
