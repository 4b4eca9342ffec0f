package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// Check is the outcome of one component probe. Recomputed on every call,
// never persisted.
type Check struct {
	Reachable bool
	Detail    string
}

// Report aggregates per-component health check results.
type Report struct {
	Status Status
	Checks map[string]Check
}

// Service coordinates direct connectivity checks against the store, the
// embedding provider and the vector collection. Checks probe each
// component live rather than inferring health from recent query outcomes.
type Service struct {
	store     StorePinger
	embedding EmbeddingChecker
	vector    VectorChecker
	provider  string
}

// New creates a Service. provider names the configured embedding backend
// for reporting purposes.
func New(store StorePinger, embedding EmbeddingChecker, vector VectorChecker, provider string) *Service {
	return &Service{
		store:     store,
		embedding: embedding,
		vector:    vector,
		provider:  provider,
	}
}

// Check runs all component probes and composes the overall status.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]Check)

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = Check{Reachable: false, Detail: err.Error()}
	} else {
		checks["store"] = Check{Reachable: true}
	}

	switch {
	case !s.embedding.Enabled():
		checks["embedding"] = Check{Reachable: false, Detail: "disabled"}
	default:
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = Check{Reachable: false, Detail: s.provider + ": " + err.Error()}
		} else {
			checks["embedding"] = Check{Reachable: true, Detail: s.provider}
		}
	}

	if err := s.vector.HealthCheck(ctx); err != nil {
		checks["vector"] = Check{Reachable: false, Detail: err.Error()}
	} else {
		checks["vector"] = Check{Reachable: true, Detail: s.vector.Collection()}
	}

	status := Healthy
	for _, c := range checks {
		if !c.Reachable {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
