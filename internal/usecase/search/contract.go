package search

import (
	"context"

	"github.com/journeyon/kbsearch/internal/domain"
	"github.com/journeyon/kbsearch/internal/domain/search/filter"
	"github.com/journeyon/kbsearch/internal/domain/search/result"
)

// Embedder vectorizes query text. Implementations signal administrative
// disable and transient failure through domain.ErrEmbeddingDisabled and
// domain.ErrEmbeddingUnavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// VectorSearcher runs a similarity query against the vector store with the
// compiled filter applied natively.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, f filter.Filter) ([]result.Entry, error)
}

// Reranker reorders a bounded candidate set with a cross-encoder model.
type Reranker interface {
	Rerank(ctx context.Context, query string, entries []result.Entry) ([]result.Entry, error)
}

// ResultCache maps query fingerprints to computed result sets. A store
// failure surfaces as a miss, never as an error.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) ([]result.Entry, bool)
	Put(ctx context.Context, fingerprint string, entries []result.Entry)
}

// RateLimiter bounds query volume per identity. Implementations fail open
// when their counter store is unreachable.
type RateLimiter interface {
	Allow(ctx context.Context, identity string) bool
}
