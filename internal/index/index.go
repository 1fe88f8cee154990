// Package index provides the in-memory similarity index used for retrieval.
//
// Source documents are split into paragraph chunks, each embedded once at
// build time. Queries run a brute-force cosine scan over every chunk; the
// corpus is small enough that linear search beats the bookkeeping cost of a
// real ANN structure. Nothing is persisted: the index is rebuilt from the
// content directory at startup.
package index

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/calyptra/sage/internal/log"
)

// Embedder turns text into a fixed-dimension vector. The interface is defined
// here, by the consumer; internal/provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MinChunkLen is the minimum fragment length kept after splitting. Shorter
// fragments (headings, stray lines) carry too little signal to embed.
const MinChunkLen = 20

// indexedExtensions are the document types included in a build.
var indexedExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// Chunk is one embedded fragment of a source document.
type Chunk struct {
	Content   string
	Embedding []float32
	Source    string // originating file name
}

// Index is an in-memory embedding index with linear-scan cosine search.
//
// Index is safe for concurrent use. Build runs at most once: the first caller
// performs the work and later callers return immediately. Queries issued
// before the build finishes see an empty index rather than blocking.
type Index struct {
	embedder Embedder
	logger   log.Logger

	buildOnce sync.Once

	mu     sync.RWMutex
	chunks []Chunk
	ready  bool
}

// New creates an empty Index.
func New(embedder Embedder, logger log.Logger) *Index {
	return &Index{
		embedder: embedder,
		logger:   logger,
	}
}

// Ready reports whether a build has completed (successfully or not).
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ready
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Build populates the index from the .md and .txt files under dir.
//
// Build is idempotent: only the first call does any work, concurrent callers
// do not duplicate embedding. Failure to read the directory leaves the index
// empty but ready; queries return nothing instead of retrying forever. A
// failure to embed a single chunk skips that chunk only.
func (ix *Index) Build(ctx context.Context, dir string) {
	ix.buildOnce.Do(func() {
		defer func() {
			ix.mu.Lock()
			ix.ready = true
			ix.mu.Unlock()
		}()

		entries, err := os.ReadDir(dir)
		if err != nil {
			ix.logger.Error("reading content directory, index stays empty",
				"dir", dir, "error", err)
			return
		}

		var chunks []Chunk
		files := 0
		for _, entry := range entries {
			if entry.IsDir() || !indexedExtensions[filepath.Ext(entry.Name())] {
				continue
			}

			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				ix.logger.Warn("skipping unreadable file", "path", path, "error", err)
				continue
			}
			files++

			for _, paragraph := range SplitParagraphs(string(data)) {
				vec, err := ix.embedder.Embed(ctx, paragraph)
				if err != nil {
					ix.logger.Warn("skipping chunk, embedding failed",
						"source", entry.Name(), "error", err)
					continue
				}
				chunks = append(chunks, Chunk{
					Content:   paragraph,
					Embedding: vec,
					Source:    entry.Name(),
				})
			}
		}

		ix.mu.Lock()
		ix.chunks = chunks
		ix.mu.Unlock()

		ix.logger.Info("similarity index built",
			"files", files, "chunks", len(chunks))
	})
}

// Query embeds text once and returns the content of at most topK chunks in
// non-increasing similarity order. When minScore > 0, chunks scoring below it
// are excluded. An unbuilt or empty index yields no results; an embedding
// failure degrades to no results rather than an error reaching the user.
func (ix *Index) Query(ctx context.Context, text string, topK int, minScore float64) ([]string, error) {
	ix.mu.RLock()
	chunks := ix.chunks
	ix.mu.RUnlock()

	if len(chunks) == 0 || topK <= 0 {
		return nil, nil
	}

	queryVec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	type scored struct {
		content string
		score   float64
	}
	results := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		s := Cosine(queryVec, c.Embedding)
		if minScore > 0 && s < minScore {
			continue
		}
		results = append(results, scored{content: c.Content, score: s})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) > topK {
		results = results[:topK]
	}

	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.content
	}
	return out, nil
}

// blankLine matches paragraph boundaries: a newline, optional whitespace,
// another newline.
var blankLine = regexp.MustCompile(`\n\s*\n`)

// SplitParagraphs splits a document on blank-line boundaries, trims each
// fragment, and discards fragments shorter than MinChunkLen.
func SplitParagraphs(content string) []string {
	var out []string
	for _, para := range blankLine.Split(content, -1) {
		para = strings.TrimSpace(para)
		if len(para) >= MinChunkLen {
			out = append(out, para)
		}
	}
	return out
}
