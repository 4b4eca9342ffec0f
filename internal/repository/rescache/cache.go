// Package rescache stores computed search results in the shared key-value
// store, keyed by query fingerprint, with server-side TTL expiry.
package rescache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/journeyon/kbsearch/internal/db"
	"github.com/journeyon/kbsearch/internal/domain/search/result"
)

const keySuffix = "search:"

// store is the consumer interface for the result cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache maps a query fingerprint to a previously computed ranked result set.
// Store failures degrade to a miss: the pipeline runs and the caller never
// sees a cache error.
type Cache struct {
	store      store
	keyPrefix  string
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a result cache.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"/"error"), may be nil.
func New(
	s store,
	keyPrefix string,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Cache {
	return &Cache{
		store:      s,
		keyPrefix:  keyPrefix + keySuffix,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// entryDTO is the storage representation of a ranked entry.
type entryDTO struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Similarity  float64  `json:"similarity"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// Get returns the cached ranked entries for a fingerprint. The second return
// is false on a miss, an expired key, or any store failure.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]result.Entry, bool) {
	data, err := c.store.Get(ctx, c.key(fingerprint))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			c.inc("miss")
			return nil, false
		}
		c.logger.Warn("Result cache read failed", zap.Error(err))
		c.inc("error")
		return nil, false
	}

	var dtos []entryDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		c.logger.Warn("Ignoring corrupt result cache entry",
			zap.String("fingerprint", fingerprint), zap.Error(err))
		c.inc("miss")
		return nil, false
	}

	entries := make([]result.Entry, len(dtos))
	for i, d := range dtos {
		entries[i] = result.Reconstruct(d.ID, d.Title, d.Similarity, d.RerankScore)
	}

	c.inc("hit")
	return entries, true
}

// Put stores ranked entries under a fingerprint with the configured TTL.
// Best-effort: a store failure is logged and swallowed.
func (c *Cache) Put(ctx context.Context, fingerprint string, entries []result.Entry) {
	dtos := make([]entryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = entryDTO{
			ID:          e.ID(),
			Title:       e.Title(),
			Similarity:  e.Similarity(),
			RerankScore: e.RerankScore(),
		}
	}

	// Marshal cannot fail: the DTO holds only scalars.
	data, _ := json.Marshal(dtos)

	if err := c.store.SetWithTTL(ctx, c.key(fingerprint), data, c.ttl); err != nil {
		c.logger.Warn("Result cache write failed",
			zap.String("fingerprint", fingerprint), zap.Error(err))
	}
}

func (c *Cache) key(fingerprint string) string {
	return c.keyPrefix + fingerprint
}

func (c *Cache) inc(outcome string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(outcome).Inc()
	}
}
