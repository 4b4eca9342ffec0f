package health

import (
	"context"
	"errors"
	"testing"
)

// --- Mocks ---

type mockStorePinger struct {
	err error
}

func (m *mockStorePinger) Ping(_ context.Context) error { return m.err }

type mockEmbeddingChecker struct {
	err     error
	enabled bool
}

func (m *mockEmbeddingChecker) HealthCheck(_ context.Context) error { return m.err }
func (m *mockEmbeddingChecker) Enabled() bool                       { return m.enabled }

type mockVectorChecker struct {
	err error
}

func (m *mockVectorChecker) HealthCheck(_ context.Context) error { return m.err }
func (m *mockVectorChecker) Collection() string                  { return "kb_entries" }

// --- Tests ---

func TestCheck_AllHealthy(t *testing.T) {
	svc := New(&mockStorePinger{}, &mockEmbeddingChecker{enabled: true}, &mockVectorChecker{}, "openai")
	r := svc.Check(context.Background())

	if r.Status != Healthy {
		t.Errorf("expected %q, got %q", Healthy, r.Status)
	}
	if !r.Checks["store"].Reachable {
		t.Error("expected store reachable")
	}
	if !r.Checks["embedding"].Reachable {
		t.Error("expected embedding reachable")
	}
	if r.Checks["embedding"].Detail != "openai" {
		t.Errorf("expected provider detail, got %q", r.Checks["embedding"].Detail)
	}
	if !r.Checks["vector"].Reachable {
		t.Error("expected vector reachable")
	}
	if r.Checks["vector"].Detail != "kb_entries" {
		t.Errorf("expected collection detail, got %q", r.Checks["vector"].Detail)
	}
}

func TestCheck_StoreError(t *testing.T) {
	svc := New(
		&mockStorePinger{err: errors.New("conn refused")},
		&mockEmbeddingChecker{enabled: true},
		&mockVectorChecker{},
		"openai",
	)
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["store"].Reachable {
		t.Error("expected store unreachable")
	}
	if r.Checks["store"].Detail != "conn refused" {
		t.Errorf("expected error detail, got %q", r.Checks["store"].Detail)
	}
	// Component checks stay independent.
	if !r.Checks["embedding"].Reachable || !r.Checks["vector"].Reachable {
		t.Error("expected other components unaffected")
	}
}

func TestCheck_EmbeddingDisabled(t *testing.T) {
	svc := New(&mockStorePinger{}, &mockEmbeddingChecker{enabled: false}, &mockVectorChecker{}, "openai")
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["embedding"].Reachable {
		t.Error("expected embedding not reachable when disabled")
	}
	if r.Checks["embedding"].Detail != "disabled" {
		t.Errorf("expected %q detail, got %q", "disabled", r.Checks["embedding"].Detail)
	}
}

func TestCheck_EmbeddingProviderError(t *testing.T) {
	svc := New(
		&mockStorePinger{},
		&mockEmbeddingChecker{enabled: true, err: errors.New("timeout")},
		&mockVectorChecker{},
		"openai",
	)
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["embedding"].Reachable {
		t.Error("expected embedding unreachable")
	}
	if r.Checks["embedding"].Detail != "openai: timeout" {
		t.Errorf("unexpected detail %q", r.Checks["embedding"].Detail)
	}
}

func TestCheck_VectorError(t *testing.T) {
	svc := New(
		&mockStorePinger{},
		&mockEmbeddingChecker{enabled: true},
		&mockVectorChecker{err: errors.New("collection missing")},
		"openai",
	)
	r := svc.Check(context.Background())

	if r.Status != Degraded {
		t.Errorf("expected %q, got %q", Degraded, r.Status)
	}
	if r.Checks["vector"].Reachable {
		t.Error("expected vector unreachable")
	}
}
