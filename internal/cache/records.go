package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/njoerd114/growrelay/internal/model"
)

// Default TTLs for cached Hatch data.
const (
	DefaultLoginTTL = 50 * time.Minute
	DefaultDataTTL  = 15 * time.Minute
)

const loginKey = "hatch:login"

// BundleKey returns the cache key for a subject's record bundle.
func BundleKey(subjectID model.ID) string {
	return "hatch:grow:" + string(subjectID) + ":data"
}

// Records stores Hatch sessions and record bundles as JSON in a Cache.
// Undecodable entries are treated as misses.
type Records struct {
	c        Cache
	loginTTL time.Duration
	dataTTL  time.Duration
	log      *slog.Logger
}

// NewRecords wraps c. Zero TTLs use the package defaults.
func NewRecords(c Cache, loginTTL, dataTTL time.Duration, logger *slog.Logger) *Records {
	if c == nil {
		c = Nop{}
	}
	if loginTTL <= 0 {
		loginTTL = DefaultLoginTTL
	}
	if dataTTL <= 0 {
		dataTTL = DefaultDataTTL
	}
	return &Records{c: c, loginTTL: loginTTL, dataTTL: dataTTL, log: logger}
}

// GetSession returns the cached login, if any.
func (r *Records) GetSession(ctx context.Context) (*model.Session, bool) {
	var s model.Session
	if !r.getJSON(ctx, loginKey, &s) || s.Token == "" {
		return nil, false
	}
	return &s, true
}

// SetSession caches a login for the login TTL.
func (r *Records) SetSession(ctx context.Context, s *model.Session) {
	r.setJSON(ctx, loginKey, s, r.loginTTL)
}

// GetBundle returns the cached bundle for subjectID, if any.
func (r *Records) GetBundle(ctx context.Context, subjectID model.ID) (model.Bundle, bool) {
	var b model.Bundle
	if !r.getJSON(ctx, BundleKey(subjectID), &b) {
		return nil, false
	}
	return b, true
}

// SetBundle caches b for the data TTL. Empty collections are cached too.
func (r *Records) SetBundle(ctx context.Context, subjectID model.ID, b model.Bundle) {
	r.setJSON(ctx, BundleKey(subjectID), b, r.dataTTL)
}

// Status reports the health of the underlying cache.
func (r *Records) Status(ctx context.Context) Status {
	return r.c.Ping(ctx)
}

func (r *Records) getJSON(ctx context.Context, key string, v any) bool {
	raw, ok := r.c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		r.log.Debug("discarding undecodable cache entry", "key", key, "error", err)
		return false
	}
	return true
}

func (r *Records) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		r.log.Debug("encoding cache entry", "key", key, "error", err)
		return
	}
	r.c.Set(ctx, key, raw, ttl)
}
