package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/journeyon/kbsearch/internal/domain"
	"github.com/journeyon/kbsearch/internal/domain/search/request"
	healthuc "github.com/journeyon/kbsearch/internal/usecase/health"
	searchuc "github.com/journeyon/kbsearch/internal/usecase/search"
)

// Error codes returned in the JSON error body.
const (
	codeBadRequest       = "bad_request"
	codeValidationFailed = "validation_failed"
	codeInvalidFilters   = "invalid_filters"
	codeRateLimited      = "rate_limited"
	codeInternalError    = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server exposes the search and health operations over HTTP.
type Server struct {
	search        *searchuc.Service
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(search *searchuc.Service, health *healthuc.Service, logger *zap.Logger) *Server {
	s := &Server{
		search: search,
		health: health,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrInvalidFilters, http.StatusBadRequest, codeInvalidFilters),
	}
	return s
}

// Routes registers all handlers on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/kb/search", s.SearchEntries)
	r.Get("/kb/search", s.SearchEntriesGet)
	r.Get("/kb/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type searchBody struct {
	Query   string         `json:"query"`
	TopK    int            `json:"top_k"`
	Rerank  bool           `json:"rerank"`
	Filters map[string]any `json:"filters"`
}

type entryItem struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Similarity  float64  `json:"similarity"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

type searchListResponse struct {
	Status  string      `json:"status"`
	Results []entryItem `json:"results"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SearchEntries handles POST /kb/search.
func (s *Server) SearchEntries(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	s.runSearch(w, r, body)
}

// SearchEntriesGet handles GET /kb/search. Filters arrive as a JSON-encoded
// query parameter; a parse failure is the same invalid_filters condition as a
// semantic compilation failure.
func (s *Server) SearchEntriesGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := searchBody{Query: q.Get("query")}

	if raw := q.Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "top_k must be an integer")
			return
		}
		body.TopK = n
	}
	if raw := q.Get("rerank"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "rerank must be a boolean")
			return
		}
		body.Rerank = b
	}
	if raw := q.Get("filters"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &body.Filters); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidFilters, "filters must be a JSON object")
			return
		}
	}

	s.runSearch(w, r, body)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, body searchBody) {
	req, err := request.New(body.Query, body.TopK, body.Rerank, body.Filters, IdentityFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]entryItem, len(resp.Entries))
	for i, e := range resp.Entries {
		items[i] = entryItem{
			ID:          e.ID(),
			Title:       e.Title(),
			Similarity:  e.Similarity(),
			RerankScore: e.RerankScore(),
		}
	}

	writeJSON(w, http.StatusOK, searchListResponse{
		Status:  string(resp.Status),
		Results: items,
	})
}

// HealthCheck handles GET /kb/health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	type checkItem struct {
		Reachable bool   `json:"reachable"`
		Detail    string `json:"detail,omitempty"`
	}
	checks := make(map[string]checkItem, len(report.Checks))
	for name, c := range report.Checks {
		checks[name] = checkItem{Reachable: c.Reachable, Detail: c.Detail}
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
