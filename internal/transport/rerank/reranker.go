// Package rerank provides cross-encoder rerank provider adapters.
package rerank

import (
	"context"

	"github.com/journeyon/kbsearch/internal/domain/search/result"
)

// NoopReranker passes candidates through unchanged. Used when no rerank
// provider is configured.
type NoopReranker struct{}

// NewNoopReranker creates a pass-through reranker.
func NewNoopReranker() *NoopReranker {
	return &NoopReranker{}
}

// Rerank returns the candidates in their original order.
func (r *NoopReranker) Rerank(_ context.Context, _ string, entries []result.Entry) ([]result.Entry, error) {
	return entries, nil
}
