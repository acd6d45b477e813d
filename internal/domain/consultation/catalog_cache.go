package consultation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/consultdesk/internal/platform/cache"
)

const (
	labTestsCacheKey  = "catalog:lab_tests"
	templatesCacheKey = "catalog:test_templates"
)

// CachedCatalog serves the lab catalog from a cache, falling through to the
// wrapped source on a miss. Cache errors are logged and never fail a read.
type CachedCatalog struct {
	source CatalogSource
	store  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedCatalog wraps source, keeping entries in store for ttl.
func NewCachedCatalog(source CatalogSource, store cache.Store, ttl time.Duration, logger zerolog.Logger) *CachedCatalog {
	return &CachedCatalog{source: source, store: store, ttl: ttl, logger: logger}
}

func (c *CachedCatalog) FetchLabTests(ctx context.Context) ([]LabTest, error) {
	var tests []LabTest
	if c.load(ctx, labTestsCacheKey, &tests) {
		return tests, nil
	}
	tests, err := c.source.FetchLabTests(ctx)
	if err != nil {
		return nil, err
	}
	c.save(ctx, labTestsCacheKey, tests)
	return tests, nil
}

func (c *CachedCatalog) FetchTestTemplates(ctx context.Context) ([]TestTemplate, error) {
	var templates []TestTemplate
	if c.load(ctx, templatesCacheKey, &templates) {
		return templates, nil
	}
	templates, err := c.source.FetchTestTemplates(ctx)
	if err != nil {
		return nil, err
	}
	c.save(ctx, templatesCacheKey, templates)
	return templates, nil
}

// Invalidate drops the cached catalog so the next read hits the source.
func (c *CachedCatalog) Invalidate(ctx context.Context) error {
	if err := c.store.Delete(ctx, labTestsCacheKey); err != nil {
		return err
	}
	return c.store.Delete(ctx, templatesCacheKey)
}

func (c *CachedCatalog) load(ctx context.Context, key string, dst interface{}) bool {
	b, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("catalog cache entry corrupt")
		return false
	}
	return true
}

func (c *CachedCatalog) save(ctx context.Context, key string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, b, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
}
