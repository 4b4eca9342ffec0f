// Package embedding gates access to the embedding provider: an
// administrative disable switch, a process-wide concurrency ceiling, and a
// per-call timeout.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/journeyon/kbsearch/internal/domain"
	"github.com/journeyon/kbsearch/internal/metrics"
)

// Dispatcher wraps an embedding provider behind a counting semaphore so that
// at most maxConcurrent provider calls run at once process-wide. Waiters are
// released in arrival order. The dispatcher never retries: retry policy, if
// any, belongs to the callers.
type Dispatcher struct {
	inner   domain.Embedder
	enabled bool
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatcher creates a concurrency-gated embedding dispatcher.
func NewDispatcher(
	inner domain.Embedder,
	enabled bool,
	maxConcurrent int,
	timeout time.Duration,
	logger *zap.Logger,
) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		inner:   inner,
		enabled: enabled,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
		logger:  logger,
	}
}

// Enabled reports whether embedding is administratively enabled.
func (d *Dispatcher) Enabled() bool { return d.enabled }

// Embed vectorizes text under the concurrency gate.
// Returns domain.ErrEmbeddingDisabled without contacting the provider when
// embedding is off; timeouts and provider failures map to
// domain.ErrEmbeddingUnavailable.
func (d *Dispatcher) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if !d.enabled {
		return domain.EmbeddingResult{}, domain.ErrEmbeddingDisabled
	}

	waitStart := time.Now()
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("acquire embedding slot: %w", domain.ErrEmbeddingUnavailable)
	}
	defer d.sem.Release(1)
	metrics.EmbeddingQueueWait.Observe(time.Since(waitStart).Seconds())

	callCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	res, err := d.inner.Embed(callCtx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			d.logger.Warn("Embedding call timed out", zap.Duration("timeout", d.timeout))
			return domain.EmbeddingResult{}, fmt.Errorf("embedding timed out: %w", domain.ErrEmbeddingUnavailable)
		}
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return domain.EmbeddingResult{}, err
		}
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", domain.ErrEmbeddingUnavailable)
	}
	return res, nil
}

// HealthCheck reports provider availability. A disabled dispatcher reports
// domain.ErrEmbeddingDisabled without contacting the provider.
func (d *Dispatcher) HealthCheck(ctx context.Context) error {
	if !d.enabled {
		return domain.ErrEmbeddingDisabled
	}
	if hc, ok := d.inner.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
