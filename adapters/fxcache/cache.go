// Package fxcache caches exchange rate quotes in Redis in front of another
// provider. Quotes are keyed by pair and uplift date.
package fxcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fuel-pricing/core/fx"
	"fuel-pricing/core/types"
)

// DefaultTTL applies when no TTL is configured
const DefaultTTL = 15 * time.Minute

const keyPrefix = "fuel-pricing:fx:"

// Cache is the part of the Redis client the provider uses
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

var (
	_ Cache            = (*redis.Client)(nil)
	_ fx.BatchProvider = (*Provider)(nil)
)

// Provider is a read-through cache over another provider. Cache failures
// are logged and fall through to the wrapped provider.
type Provider struct {
	next   fx.Provider
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// Option configures a Provider
type Option func(*Provider)

// WithTTL sets the expiry of cached quotes
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New wraps next with a Redis cache
func New(next fx.Provider, cache Cache, opts ...Option) *Provider {
	p := &Provider{next: next, cache: cache, ttl: DefaultTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect opens a Redis client from a URL and verifies connectivity
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rc, nil
}

// Key is the cache key of a pair on a date
func Key(pair types.CurrencyPair, at time.Time) string {
	return keyPrefix + pair.String() + ":" + at.UTC().Format("2006-01-02")
}

// Rate implements fx.Provider
func (p *Provider) Rate(ctx context.Context, pair types.CurrencyPair, at time.Time) (types.RateQuote, error) {
	if q, ok := p.lookup(ctx, pair, at); ok {
		return q, nil
	}
	q, err := p.next.Rate(ctx, pair, at)
	if err != nil {
		return types.RateQuote{}, err
	}
	p.store(ctx, q, at)
	return q, nil
}

// Rates implements fx.BatchProvider. Cached pairs are read with a single
// MGET; misses go to the wrapped provider in one batch when it supports
// batching.
func (p *Provider) Rates(ctx context.Context, pairs []types.CurrencyPair, at time.Time) (map[types.CurrencyPair]types.RateQuote, error) {
	out := p.lookupAll(ctx, pairs, at)
	var missing []types.CurrencyPair
	for _, pair := range pairs {
		if _, ok := out[pair]; !ok {
			missing = append(missing, pair)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched := make(map[types.CurrencyPair]types.RateQuote, len(missing))
	if batch, ok := p.next.(fx.BatchProvider); ok {
		quotes, err := batch.Rates(ctx, missing, at)
		if err != nil {
			return nil, err
		}
		fetched = quotes
	} else {
		for _, pair := range missing {
			q, err := p.next.Rate(ctx, pair, at)
			if err != nil {
				return nil, err
			}
			fetched[pair] = q
		}
	}

	for _, pair := range missing {
		q, ok := fetched[pair]
		if !ok {
			continue
		}
		p.store(ctx, q, at)
		out[pair] = q
	}
	return out, nil
}

func (p *Provider) lookup(ctx context.Context, pair types.CurrencyPair, at time.Time) (types.RateQuote, bool) {
	key := Key(pair, at)
	data, err := p.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.Warn("fx cache read failed", zap.String("key", key), zap.Error(err))
		}
		return types.RateQuote{}, false
	}
	return p.decode(key, pair, data)
}

// lookupAll reads every pair in one round trip. A failed read yields an
// empty result so that all pairs fall through.
func (p *Provider) lookupAll(ctx context.Context, pairs []types.CurrencyPair, at time.Time) map[types.CurrencyPair]types.RateQuote {
	out := make(map[types.CurrencyPair]types.RateQuote, len(pairs))
	if len(pairs) == 0 {
		return out
	}
	keys := make([]string, len(pairs))
	for i, pair := range pairs {
		keys[i] = Key(pair, at)
	}
	vals, err := p.cache.MGet(ctx, keys...).Result()
	if err != nil {
		p.logger.Warn("fx cache batch read failed", zap.Int("keys", len(keys)), zap.Error(err))
		return out
	}
	for i, val := range vals {
		if i >= len(pairs) {
			break
		}
		s, ok := val.(string)
		if !ok {
			continue
		}
		if q, ok := p.decode(keys[i], pairs[i], []byte(s)); ok {
			out[pairs[i]] = q
		}
	}
	return out
}

func (p *Provider) decode(key string, pair types.CurrencyPair, data []byte) (types.RateQuote, bool) {
	var q types.RateQuote
	if err := json.Unmarshal(data, &q); err != nil || q.Pair != pair || !q.Rate.IsPositive() {
		p.logger.Warn("discarding malformed fx cache entry", zap.String("key", key))
		return types.RateQuote{}, false
	}
	return q, true
}

func (p *Provider) store(ctx context.Context, q types.RateQuote, at time.Time) {
	data, err := json.Marshal(q)
	if err != nil {
		return
	}
	key := Key(q.Pair, at)
	if err := p.cache.Set(ctx, key, data, p.ttl).Err(); err != nil {
		p.logger.Warn("fx cache write failed", zap.String("key", key), zap.Error(err))
	}
}
