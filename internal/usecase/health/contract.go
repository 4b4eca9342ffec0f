package health

import "context"

// StorePinger checks the shared cache/rate-limit store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
	Enabled() bool
}

// VectorChecker checks vector store availability.
type VectorChecker interface {
	HealthCheck(ctx context.Context) error
	Collection() string
}
