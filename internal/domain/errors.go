package domain

import "errors"

var (
	// ErrRateLimited signals the caller exhausted its fixed-window quota.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidFilters signals a filter object that failed compilation.
	ErrInvalidFilters = errors.New("invalid filters")
	// ErrEmbeddingDisabled signals that embedding is administratively disabled.
	ErrEmbeddingDisabled = errors.New("embedding disabled")
	// ErrEmbeddingUnavailable signals a transient embedding provider failure.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	// ErrSearchUnavailable signals that the vector store or its collection is unreachable.
	ErrSearchUnavailable = errors.New("knowledge base unavailable")
	// ErrRerankUnavailable signals a rerank provider failure. Never caller-visible:
	// the orchestrator degrades to the similarity order.
	ErrRerankUnavailable = errors.New("rerank provider unavailable")
)
