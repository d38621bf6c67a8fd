package repository

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/flashcoupon/coupon-engine/internal/model"
)

// CachedCoupons wraps the coupon metadata lookup with a short-TTL in-memory
// cache so the issue path stays off the database. Definitions are immutable
// once active; the TTL only bounds how long a pre-activation edit can remain
// stale, and Invalidate closes even that window for edits made through this
// process.
type CachedCoupons struct {
	repo  *CouponRepository
	cache *gocache.Cache
	ttl   time.Duration
}

// NewCachedCoupons constructs the caching decorator.
func NewCachedCoupons(repo *CouponRepository, ttl time.Duration) *CachedCoupons {
	return &CachedCoupons{
		repo:  repo,
		cache: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// GetMeta returns the coupon definition, from cache when fresh.
func (c *CachedCoupons) GetMeta(ctx context.Context, id string) (*model.Coupon, error) {
	if v, ok := c.cache.Get(id); ok {
		return v.(*model.Coupon), nil
	}
	m, err := c.repo.GetMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Set(id, m, c.ttl)
	return m, nil
}

// Invalidate drops a cached definition after an administrative edit.
func (c *CachedCoupons) Invalidate(id string) {
	c.cache.Delete(id)
}
