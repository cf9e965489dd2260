package rates

import (
	"context"
	"errors"
	"strings"
	"time"

	"rampbridge/internal/application"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	rateCacheKeyPrefix = "rampbridge:rates:"
	defaultCacheTTL    = 30 * time.Second
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedProvider is a read-through Redis cache in front of a rate provider.
// The short TTL keeps quotes fresh while shielding the pricing service from
// one lookup per authorization. Cache failures degrade to the inner
// provider.
type CachedProvider struct {
	inner application.RateProvider
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedProvider(inner application.RateProvider, cfg CacheConfig) (*CachedProvider, error) {
	if inner == nil {
		return nil, errors.New("inner rate provider is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedProvider{inner: inner}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: client, ttl: cfg.TTL}, nil
}

func (p *CachedProvider) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	if p.cache == nil {
		return p.inner.Rate(ctx, base, quote)
	}
	key := rateCacheKey(base, quote)
	if cached, err := p.cache.Get(ctx, key).Result(); err == nil {
		if rate, err := decimal.NewFromString(cached); err == nil {
			return rate, nil
		}
	}

	rate, err := p.inner.Rate(ctx, base, quote)
	if err != nil {
		return decimal.Decimal{}, err
	}
	_ = p.cache.Set(ctx, key, rate.String(), p.ttl).Err()
	return rate, nil
}

func (p *CachedProvider) Close() error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Close()
}

func rateCacheKey(base, quote string) string {
	var b strings.Builder
	b.Grow(32)
	b.WriteString(rateCacheKeyPrefix)
	b.WriteString(strings.ToUpper(base))
	b.WriteString(":")
	b.WriteString(strings.ToUpper(quote))
	return b.String()
}
