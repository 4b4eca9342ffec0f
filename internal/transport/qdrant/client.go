// Package qdrant is the vector store adapter, speaking the Qdrant HTTP API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/journeyon/kbsearch/internal/domain"
	"github.com/journeyon/kbsearch/internal/domain/search/filter"
	"github.com/journeyon/kbsearch/internal/domain/search/result"
)

// Client issues similarity queries against a Qdrant collection.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	http       *http.Client
	logger     *zap.Logger
}

// Config holds the vector store connection settings.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	Logger     *zap.Logger
}

// NewClient creates a Qdrant HTTP client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		http:       &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Collection returns the configured collection name, for health reporting.
func (c *Client) Collection() string { return c.collection }

type searchRequest struct {
	Vector      []float32   `json:"vector"`
	Limit       int         `json:"limit"`
	WithPayload bool        `json:"with_payload"`
	Filter      *filterBody `json:"filter,omitempty"`
}

type filterBody struct {
	Must []fieldCondition `json:"must"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match matchValue `json:"match"`
}

// matchValue serializes as {"value": x} for eq and {"any": [...]} for in.
type matchValue struct {
	Value any   `json:"value,omitempty"`
	Any   []any `json:"any,omitempty"`
}

type searchResponse struct {
	Result []scoredPoint `json:"result"`
}

type scoredPoint struct {
	ID      int64          `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Search runs a similarity query with the compiled filter applied natively.
// An unreachable store, a missing collection, or a timeout all map to
// domain.ErrSearchUnavailable.
func (c *Client) Search(
	ctx context.Context, vector []float32, topK int, f filter.Filter,
) ([]result.Entry, error) {
	body := searchRequest{
		Vector:      vector,
		Limit:       topK,
		WithPayload: true,
		Filter:      buildFilter(f),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector store request failed: %w", domain.ErrSearchUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("Vector store returned error",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("vector store status %d: %w", resp.StatusCode, domain.ErrSearchUnavailable)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", domain.ErrSearchUnavailable)
	}

	entries := make([]result.Entry, len(parsed.Result))
	for i, p := range parsed.Result {
		entries[i] = result.New(p.ID, payloadTitle(p.Payload), p.Score)
	}
	return entries, nil
}

// HealthCheck verifies that the configured collection exists.
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vector store unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("collection %q does not exist", c.collection)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector store status %d", resp.StatusCode)
	}
	return nil
}

// buildFilter translates compiled conditions into the native filter
// expression: eq becomes an exact match clause, in a membership clause,
// ANDed together under must.
func buildFilter(f filter.Filter) *filterBody {
	if f.IsEmpty() {
		return nil
	}

	conds := f.Conditions()
	must := make([]fieldCondition, len(conds))
	for i, c := range conds {
		fc := fieldCondition{Key: c.Field()}
		switch c.Operator() {
		case filter.OpEq:
			fc.Match = matchValue{Value: c.Values()[0]}
		case filter.OpIn:
			fc.Match = matchValue{Any: c.Values()}
		}
		must[i] = fc
	}
	return &filterBody{Must: must}
}

func payloadTitle(payload map[string]any) string {
	if t, ok := payload["title"].(string); ok {
		return t
	}
	return ""
}
