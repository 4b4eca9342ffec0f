package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/journeyon/kbsearch/internal/domain"
	"github.com/journeyon/kbsearch/internal/domain/search/filter"
)

var allowed = []string{"trip_id", "source"}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(&Config{URL: srv.URL, Collection: "kb_entries"})
	return c, srv
}

func TestSearch_TranslatesFilters(t *testing.T) {
	var got searchRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/kb_entries/points/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(searchResponse{})
	})

	f, err := filter.Compile(map[string]any{
		"trip_id": float64(42),
		"source":  []any{"web", "manual"},
	}, allowed)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if _, err := c.Search(context.Background(), []float32{0.1, 0.2}, 5, f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Limit != 5 {
		t.Errorf("expected limit 5, got %d", got.Limit)
	}
	if !got.WithPayload {
		t.Error("expected with_payload")
	}
	if got.Filter == nil || len(got.Filter.Must) != 2 {
		t.Fatalf("expected 2 must conditions, got %+v", got.Filter)
	}
	// Compiled conditions arrive sorted by field: source then trip_id.
	if got.Filter.Must[0].Key != "source" || len(got.Filter.Must[0].Match.Any) != 2 {
		t.Errorf("unexpected in condition: %+v", got.Filter.Must[0])
	}
	if got.Filter.Must[1].Key != "trip_id" || got.Filter.Must[1].Match.Value != float64(42) {
		t.Errorf("unexpected eq condition: %+v", got.Filter.Must[1])
	}
}

func TestSearch_ParsesResults(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(searchResponse{Result: []scoredPoint{
			{ID: 7, Score: 0.93, Payload: map[string]any{"title": "Trail map"}},
			{ID: 3, Score: 0.71, Payload: map[string]any{}},
		}})
	})

	entries, err := c.Search(context.Background(), []float32{0.1}, 10, filter.Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID() != 7 || entries[0].Title() != "Trail map" || entries[0].Similarity() != 0.93 {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
	if entries[1].Title() != "" {
		t.Errorf("expected empty title for missing payload, got %q", entries[1].Title())
	}
}

func TestSearch_MissingCollectionIsUnavailable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.Search(context.Background(), []float32{0.1}, 10, filter.Filter{})
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestSearch_UnreachableStoreIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from now on
	c := NewClient(&Config{URL: srv.URL, Collection: "kb_entries"})

	_, err := c.Search(context.Background(), []float32{0.1}, 10, filter.Filter{})
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		t.Fatalf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/kb_entries" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHealthCheck_MissingCollection(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if err := c.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error for missing collection")
	}
}
