package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/opd"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/db"
)

// CachedDoctors serves doctor lookups from a cache in front of another
// directory. Only hits are cached; an unknown doctor is asked for again.
type CachedDoctors struct {
	next   opd.DoctorDirectory
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedDoctors(next opd.DoctorDirectory, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *CachedDoctors {
	return &CachedDoctors{next: next, cache: c, ttl: ttl, logger: logger}
}

func doctorKey(tenant string, id uuid.UUID) string {
	return "doctor:" + tenant + ":" + id.String()
}

func (c *CachedDoctors) Doctor(ctx context.Context, id uuid.UUID) (*opd.Doctor, error) {
	key := doctorKey(db.TenantFromContext(ctx), id)

	raw, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("doctor cache read failed")
	}
	if found {
		var doc opd.Doctor
		if err := json.Unmarshal(raw, &doc); err == nil {
			return &doc, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable doctor cache entry")
	}

	doc, err := c.next.Doctor(ctx, id)
	if err != nil || doc == nil {
		return doc, err
	}
	if raw, err := json.Marshal(doc); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("doctor cache write failed")
		}
	}
	return doc, nil
}
