// Package search orchestrates the knowledge-base query pipeline:
// rate check, cache lookup, filter compilation, embedding, vector search,
// optional rerank, cache write.
package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/journeyon/kbsearch/internal/domain"
	"github.com/journeyon/kbsearch/internal/domain/search/filter"
	"github.com/journeyon/kbsearch/internal/domain/search/fingerprint"
	"github.com/journeyon/kbsearch/internal/domain/search/request"
	"github.com/journeyon/kbsearch/internal/domain/search/result"
	"github.com/journeyon/kbsearch/internal/metrics"
)

// Status distinguishes a full result from a degraded one. Degradation is a
// first-class return value, not an error: callers render "search not
// available" instead of an error banner.
type Status string

const (
	// StatusOK indicates a fully ranked result.
	StatusOK Status = "ok"
	// StatusEmbeddingDisabled indicates embedding is administratively off.
	StatusEmbeddingDisabled Status = "embedding_disabled"
	// StatusKBUnavailable indicates the embedding provider or vector store is unreachable.
	StatusKBUnavailable Status = "kb_unavailable"
)

// Response is the outcome of one search call.
type Response struct {
	Status  Status
	Entries []result.Entry
}

// Service is the sole public entry point of the search subsystem.
type Service struct {
	limiter RateLimiter
	cache   ResultCache
	embed   Embedder
	vector  VectorSearcher
	logger  *zap.Logger

	rerank           Reranker
	rerankConfigured bool
	overfetch        int

	filterFields []string
}

// New creates a search orchestrator. Reranking is off until WithReranker.
func New(
	limiter RateLimiter,
	cache ResultCache,
	embed Embedder,
	vector VectorSearcher,
	logger *zap.Logger,
) *Service {
	return &Service{
		limiter:      limiter,
		cache:        cache,
		embed:        embed,
		vector:       vector,
		logger:       logger,
		overfetch:    1,
		filterFields: []string{"trip_id", "source", "user_id"},
	}
}

// WithReranker configures the optional second-pass reranker. overfetch
// widens the candidate pool (top_k × overfetch) to give reranking room to
// reorder; the pool is capped at the top_k maximum.
func (s *Service) WithReranker(r Reranker, overfetch int) *Service {
	s.rerank = r
	s.rerankConfigured = true
	if overfetch > 0 {
		s.overfetch = overfetch
	}
	return s
}

// WithFilterFields replaces the entry schema allow-list for filter compilation.
func (s *Service) WithFilterFields(fields []string) *Service {
	if len(fields) > 0 {
		s.filterFields = fields
	}
	return s
}

// Search executes the query pipeline. Only quota and validation failures are
// returned as errors (domain.ErrRateLimited, domain.ErrInvalidFilters);
// provider degradation is absorbed into the response status.
func (s *Service) Search(ctx context.Context, req request.Request) (Response, error) {
	// Quota is consumed before the cache lookup, so cache hits still count.
	if !s.limiter.Allow(ctx, req.Identity()) {
		metrics.SearchRequestsTotal.WithLabelValues("rate_limited").Inc()
		return Response{}, domain.ErrRateLimited
	}

	compiled, err := filter.Compile(req.Filters(), s.filterFields)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("invalid_filters").Inc()
		return Response{}, fmt.Errorf("%w: %w", domain.ErrInvalidFilters, err)
	}

	fp := fingerprint.Compute(req.Identity(), req.Query(), req.TopK(), req.Rerank(), compiled)

	// A hit skips straight to the response without rewriting the entry,
	// so the staleness window is fixed, not sliding.
	if entries, ok := s.cache.Get(ctx, fp); ok {
		metrics.SearchRequestsTotal.WithLabelValues(string(StatusOK)).Inc()
		return Response{Status: StatusOK, Entries: entries}, nil
	}

	embRes, err := s.embed.Embed(ctx, req.Query())
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingDisabled) {
			metrics.SearchRequestsTotal.WithLabelValues(string(StatusEmbeddingDisabled)).Inc()
			return Response{Status: StatusEmbeddingDisabled, Entries: []result.Entry{}}, nil
		}
		s.logger.Warn("Embedding unavailable, degrading", zap.Error(err))
		metrics.SearchRequestsTotal.WithLabelValues(string(StatusKBUnavailable)).Inc()
		return Response{Status: StatusKBUnavailable, Entries: []result.Entry{}}, nil
	}
	if len(embRes.Embedding) == 0 {
		s.logger.Warn("Embedding provider returned an empty vector")
		metrics.SearchRequestsTotal.WithLabelValues(string(StatusKBUnavailable)).Inc()
		return Response{Status: StatusKBUnavailable, Entries: []result.Entry{}}, nil
	}

	useRerank := req.Rerank() && s.rerankConfigured
	poolSize := req.TopK()
	if useRerank {
		poolSize = min(req.TopK()*s.overfetch, request.MaxTopK)
	}

	entries, err := s.vector.Search(ctx, embRes.Embedding, poolSize, compiled)
	if err != nil {
		s.logger.Warn("Vector store unavailable, degrading", zap.Error(err))
		metrics.SearchRequestsTotal.WithLabelValues(string(StatusKBUnavailable)).Inc()
		return Response{Status: StatusKBUnavailable, Entries: []result.Entry{}}, nil
	}

	result.SortBySimilarity(entries)

	if useRerank {
		reranked, rerr := s.rerank.Rerank(ctx, req.Query(), entries)
		if rerr != nil {
			// Degrade silently to the similarity order.
			s.logger.Warn("Rerank failed, keeping similarity order", zap.Error(rerr))
		} else {
			entries = reranked
		}
	}

	if len(entries) > req.TopK() {
		entries = entries[:req.TopK()]
	}

	// Best-effort: a failed write degrades to "no caching".
	s.cache.Put(ctx, fp, entries)

	metrics.SearchRequestsTotal.WithLabelValues(string(StatusOK)).Inc()
	return Response{Status: StatusOK, Entries: entries}, nil
}
