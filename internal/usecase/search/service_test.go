package search

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/journeyon/kbsearch/internal/domain"
	"github.com/journeyon/kbsearch/internal/domain/search/filter"
	"github.com/journeyon/kbsearch/internal/domain/search/request"
	"github.com/journeyon/kbsearch/internal/domain/search/result"
)

// --- Mocks ---

type mockLimiter struct {
	allowed bool
	calls   int
}

func (m *mockLimiter) Allow(context.Context, string) bool {
	m.calls++
	return m.allowed
}

type mockCache struct {
	entries  map[string][]result.Entry
	getCalls int
	putCalls int
	lastPut  string
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]result.Entry)}
}

func (m *mockCache) Get(_ context.Context, fp string) ([]result.Entry, bool) {
	m.getCalls++
	e, ok := m.entries[fp]
	return e, ok
}

func (m *mockCache) Put(_ context.Context, fp string, entries []result.Entry) {
	m.putCalls++
	m.lastPut = fp
	m.entries[fp] = entries
}

type mockEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

type mockVector struct {
	entries  []result.Entry
	err      error
	calls    int
	lastTopK int
}

func (m *mockVector) Search(
	_ context.Context, _ []float32, topK int, _ filter.Filter,
) ([]result.Entry, error) {
	m.calls++
	m.lastTopK = topK
	if m.err != nil {
		return nil, m.err
	}
	return m.entries, nil
}

type mockReranker struct {
	entries []result.Entry
	err     error
	calls   int
}

func (m *mockReranker) Rerank(
	_ context.Context, _ string, entries []result.Entry,
) ([]result.Entry, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.entries != nil {
		return m.entries, nil
	}
	return entries, nil
}

type fixture struct {
	limiter *mockLimiter
	cache   *mockCache
	embed   *mockEmbedder
	vector  *mockVector
	svc     *Service
}

func newFixture() *fixture {
	f := &fixture{
		limiter: &mockLimiter{allowed: true},
		cache:   newMockCache(),
		embed:   &mockEmbedder{vec: []float32{0.1, 0.2}},
		vector: &mockVector{entries: []result.Entry{
			result.New(1, "Hiking trails", 0.95),
			result.New(2, "Packing list", 0.90),
		}},
	}
	f.svc = New(f.limiter, f.cache, f.embed, f.vector, zap.NewNop())
	return f
}

func makeRequest(t *testing.T, query string, topK int, rerank bool, filters map[string]any) request.Request {
	t.Helper()
	req, err := request.New(query, topK, rerank, filters, "user-1")
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return req
}

// --- Tests ---

func TestSearch_FullPipeline(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Search(context.Background(),
		makeRequest(t, "hiking trails", 5, false, map[string]any{"trip_id": float64(42)}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != StatusOK {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Entries))
	}
	if f.embed.calls != 1 || f.vector.calls != 1 {
		t.Errorf("expected one embed and one vector call, got %d/%d", f.embed.calls, f.vector.calls)
	}
	if f.cache.putCalls != 1 {
		t.Errorf("expected one cache write, got %d", f.cache.putCalls)
	}
}

func TestSearch_RateLimited(t *testing.T) {
	f := newFixture()
	f.limiter.allowed = false

	_, err := f.svc.Search(context.Background(), makeRequest(t, "q", 5, false, nil))
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if f.cache.getCalls != 0 || f.embed.calls != 0 || f.vector.calls != 0 {
		t.Error("no further stage may run after a rate-limit rejection")
	}
}

// The rate check runs before the cache lookup, so hits still consume quota.
func TestSearch_CacheHitConsumesQuota(t *testing.T) {
	f := newFixture()

	req := makeRequest(t, "hiking trails", 5, false, nil)
	if _, err := f.svc.Search(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Search(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.limiter.calls != 2 {
		t.Errorf("expected 2 limiter calls, got %d", f.limiter.calls)
	}
}

func TestSearch_InvalidFilters(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Search(context.Background(),
		makeRequest(t, "q", 5, false, map[string]any{"owner": "me"}))
	if !errors.Is(err, domain.ErrInvalidFilters) {
		t.Fatalf("expected ErrInvalidFilters, got %v", err)
	}
	if f.embed.calls != 0 || f.vector.calls != 0 {
		t.Error("no provider may be contacted on a compilation failure")
	}
}

// Reference scenario: an immediate repeat of an identical request is served
// from cache with provider call counters unchanged.
func TestSearch_RepeatWithinTTLIsCacheHit(t *testing.T) {
	f := newFixture()

	req := makeRequest(t, "hiking trails", 5, false, map[string]any{"trip_id": float64(42)})

	first, err := f.svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.svc.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.embed.calls != 1 || f.vector.calls != 1 {
		t.Errorf("expected providers untouched on the repeat call, got %d/%d", f.embed.calls, f.vector.calls)
	}
	// No write on a hit: the staleness window is fixed, not sliding.
	if f.cache.putCalls != 1 {
		t.Errorf("expected exactly one cache write, got %d", f.cache.putCalls)
	}
	if len(first.Entries) != len(second.Entries) {
		t.Fatal("expected identical result sets")
	}
	for i := range first.Entries {
		if first.Entries[i].ID() != second.Entries[i].ID() {
			t.Errorf("entry %d differs between calls", i)
		}
	}
}

// Note: concurrent identical-fingerprint misses each run the full pipeline
// and both write; there is deliberately no single-flight deduplication.
func TestSearch_ConcurrentMissesBothCompute(t *testing.T) {
	f := newFixture()
	cacheMisses := &alwaysMissCache{}
	f.svc = New(f.limiter, cacheMisses, f.embed, f.vector, zap.NewNop())

	req := makeRequest(t, "hiking trails", 5, false, nil)
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Search(context.Background(), req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if f.embed.calls != 2 || f.vector.calls != 2 {
		t.Errorf("expected both misses to compute, got %d/%d", f.embed.calls, f.vector.calls)
	}
	if cacheMisses.putCalls != 2 {
		t.Errorf("expected both misses to write, got %d", cacheMisses.putCalls)
	}
}

type alwaysMissCache struct {
	putCalls int
}

func (c *alwaysMissCache) Get(context.Context, string) ([]result.Entry, bool) { return nil, false }
func (c *alwaysMissCache) Put(context.Context, string, []result.Entry)        { c.putCalls++ }

func TestSearch_EmbeddingDisabled(t *testing.T) {
	f := newFixture()
	f.embed.err = domain.ErrEmbeddingDisabled

	resp, err := f.svc.Search(context.Background(), makeRequest(t, "q", 5, false, nil))
	if err != nil {
		t.Fatalf("expected success response, got error: %v", err)
	}
	if resp.Status != StatusEmbeddingDisabled {
		t.Errorf("expected embedding_disabled, got %q", resp.Status)
	}
	if len(resp.Entries) != 0 {
		t.Errorf("expected empty entries, got %d", len(resp.Entries))
	}
	if f.vector.calls != 0 {
		t.Error("vector store must not be contacted when embedding is disabled")
	}
	if f.cache.putCalls != 0 {
		t.Error("degraded responses must not be cached")
	}
}

func TestSearch_EmbeddingUnavailable(t *testing.T) {
	f := newFixture()
	f.embed.err = domain.ErrEmbeddingUnavailable

	resp, err := f.svc.Search(context.Background(), makeRequest(t, "q", 5, false, nil))
	if err != nil {
		t.Fatalf("expected success response, got error: %v", err)
	}
	if resp.Status != StatusKBUnavailable {
		t.Errorf("expected kb_unavailable, got %q", resp.Status)
	}
	if f.vector.calls != 0 {
		t.Error("vector store must not be contacted without a vector")
	}
}

func TestSearch_VectorStoreUnavailable(t *testing.T) {
	f := newFixture()
	f.vector.err = domain.ErrSearchUnavailable

	resp, err := f.svc.Search(context.Background(), makeRequest(t, "q", 5, false, nil))
	if err != nil {
		t.Fatalf("expected success response, got error: %v", err)
	}
	if resp.Status != StatusKBUnavailable {
		t.Errorf("expected kb_unavailable, got %q", resp.Status)
	}
	if len(resp.Entries) != 0 {
		t.Errorf("expected empty entries, got %d", len(resp.Entries))
	}
	if f.cache.putCalls != 0 {
		t.Error("degraded responses must not be cached")
	}
}

func TestSearch_RerankApplied(t *testing.T) {
	f := newFixture()
	rr := &mockReranker{entries: []result.Entry{
		result.New(2, "Packing list", 0.90).WithRerankScore(0.8),
		result.New(1, "Hiking trails", 0.95).WithRerankScore(0.3),
	}}
	f.svc.WithReranker(rr, 3)

	resp, err := f.svc.Search(context.Background(), makeRequest(t, "packing", 5, true, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rr.calls != 1 {
		t.Fatalf("expected one rerank call, got %d", rr.calls)
	}
	if resp.Entries[0].ID() != 2 {
		t.Errorf("expected rerank order, got entry %d first", resp.Entries[0].ID())
	}
	if f.vector.lastTopK != 15 {
		t.Errorf("expected overfetched pool of 15, got %d", f.vector.lastTopK)
	}
}

func TestSearch_RerankFailureKeepsCandidates(t *testing.T) {
	f := newFixture()
	rr := &mockReranker{err: domain.ErrRerankUnavailable}
	f.svc.WithReranker(rr, 1)

	resp, err := f.svc.Search(context.Background(), makeRequest(t, "q", 5, true, nil))
	if err != nil {
		t.Fatalf("rerank failure must not fail the request: %v", err)
	}
	if resp.Status != StatusOK {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("expected all candidates back, got %d", len(resp.Entries))
	}
	if resp.Entries[0].ID() != 1 {
		t.Error("expected similarity order preserved on rerank failure")
	}
}

func TestSearch_RerankSkippedWhenNotConfigured(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Search(context.Background(), makeRequest(t, "q", 5, true, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != StatusOK {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if f.vector.lastTopK != 5 {
		t.Errorf("expected no overfetch without a reranker, got pool %d", f.vector.lastTopK)
	}
}

func TestSearch_OverfetchCappedAtMaxTopK(t *testing.T) {
	f := newFixture()
	f.svc.WithReranker(&mockReranker{}, 3)

	_, err := f.svc.Search(context.Background(), makeRequest(t, "q", 80, true, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.vector.lastTopK != request.MaxTopK {
		t.Errorf("expected pool capped at %d, got %d", request.MaxTopK, f.vector.lastTopK)
	}
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	f := newFixture()
	f.vector.entries = []result.Entry{
		result.New(1, "a", 0.9),
		result.New(2, "b", 0.8),
		result.New(3, "c", 0.7),
	}

	resp, err := f.svc.Search(context.Background(), makeRequest(t, "q", 2, false, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Errorf("expected 2 entries after truncation, got %d", len(resp.Entries))
	}
}

func TestSearch_TiesBrokenByEntryID(t *testing.T) {
	f := newFixture()
	f.vector.entries = []result.Entry{
		result.New(9, "b", 0.8),
		result.New(4, "a", 0.8),
		result.New(1, "c", 0.9),
	}

	resp, err := f.svc.Search(context.Background(), makeRequest(t, "q", 5, false, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := []int64{resp.Entries[0].ID(), resp.Entries[1].ID(), resp.Entries[2].ID()}
	if ids[0] != 1 || ids[1] != 4 || ids[2] != 9 {
		t.Errorf("unexpected order: %v", ids)
	}
}
