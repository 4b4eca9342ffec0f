package request

import (
	"fmt"
	"strings"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed search query length.
	MaxQueryLength = 4096
	DefaultTopK    = 10
	MaxTopK        = 100
)

// Request is a validated search query.
type Request struct {
	query    string
	topK     int
	rerank   bool
	filters  map[string]any
	identity string
}

// New validates and normalizes search parameters.
// Defaults: topK=10; topK above MaxTopK is clamped, negative topK is rejected.
func New(query string, topK int, rerank bool, filters map[string]any, identity string) (Request, error) {
	if strings.TrimSpace(query) == "" {
		return Request{}, fmt.Errorf("query is required")
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if topK < 0 {
		return Request{}, fmt.Errorf("top_k must be positive, got %d", topK)
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if identity == "" {
		return Request{}, fmt.Errorf("identity is required")
	}

	return Request{
		query:    query,
		topK:     topK,
		rerank:   rerank,
		filters:  filters,
		identity: identity,
	}, nil
}

// Query returns the raw query text.
func (r Request) Query() string { return r.query }

// TopK returns the requested result count.
func (r Request) TopK() int { return r.topK }

// Rerank reports whether second-pass reranking was requested.
func (r Request) Rerank() bool { return r.rerank }

// Filters returns the raw, uncompiled filter mapping.
func (r Request) Filters() map[string]any { return r.filters }

// Identity returns the opaque caller key used for rate limiting and cache scoping.
func (r Request) Identity() string { return r.identity }
