package rerank

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
	"github.com/journeyon/kbsearch/internal/domain/search/result"
	"github.com/journeyon/kbsearch/internal/metrics"
)

// HTTPReranker scores candidates against a cross-encoder rerank API
// (POST {base}/rerank, Jina/Voyage/SiliconFlow-compatible shape).
type HTTPReranker struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	logger  *zap.Logger
}

// Config holds the rerank provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewHTTPReranker creates a cross-encoder rerank adapter.
func NewHTTPReranker(cfg *Config) *HTTPReranker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPReranker{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Rerank reorders candidates by cross-encoder relevance. It never drops
// candidates: entries the provider did not score keep their position after
// the scored ones. Provider failures wrap domain.ErrRerankUnavailable.
func (r *HTTPReranker) Rerank(
	ctx context.Context, query string, entries []result.Entry,
) ([]result.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	documents := make([]string, len(entries))
	for i, e := range entries {
		documents[i] = e.Title()
	}

	reqBody := rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      len(documents),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		metrics.RerankRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("rerank request failed: %w", domain.ErrRerankUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		metrics.RerankRequestsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("Rerank provider returned error",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, fmt.Errorf("rerank API status %d: %w", resp.StatusCode, domain.ErrRerankUnavailable)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.RerankRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode rerank response: %w", domain.ErrRerankUnavailable)
	}

	scores := make(map[int]float64, len(parsed.Results))
	for _, res := range parsed.Results {
		scores[res.Index] = res.RelevanceScore
	}

	reranked := make([]result.Entry, len(entries))
	for i, e := range entries {
		if score, ok := scores[i]; ok {
			reranked[i] = e.WithRerankScore(score)
		} else {
			reranked[i] = e
		}
	}
	result.SortByRerank(reranked)

	metrics.RerankRequestsTotal.WithLabelValues("success").Inc()
	return reranked, nil
}
