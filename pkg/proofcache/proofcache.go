// Package proofcache implements the content-addressed memo of SMT
// verdicts and counterexamples (C4). Grounded on the teacher's
// pkg/kernel/limiter_redis.go for the go-redis client wiring idiom and the
// Storage-interface pattern from pkg/budget/enforcer.go, with the
// fail-open contract (cache unavailable ⇒ no-op, gate stays functional)
// borrowed from the same file's fail-open/fail-closed commentary.
package proofcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindburn-labs/governor-core/pkg/canonicalize"
	"github.com/mindburn-labs/governor-core/pkg/errs"
)

// TTL is the cache entry lifetime, per §3.
const TTL = 24 * time.Hour

const (
	verdictNamespace        = "verdict"
	counterexampleNamespace = "counterexample"
)

const (
	verdictPass = "1"
	verdictFail = "0"
)

// Entry is a cached proof result.
type Entry struct {
	Passed          bool
	Counterexample  json.RawMessage
	HasCounterexamp bool
}

// Backend is the key/value facility with expiring entries that C4 is
// built on. redisBackend implements it against go-redis; tests substitute
// an in-memory fake, matching the teacher's pkg/budget Storage interface
// pattern for mockable persistence.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Cache is the C4 contract: a content-addressed, best-effort memo.
// A nil *Cache (or one with a nil backend) behaves as a total no-op:
// lookups miss, writes are silently dropped.
type Cache struct {
	backend Backend
}

// New returns a Cache backed by a Redis client at addr. Connectivity is
// not verified here — the gate must remain functional even if Redis never
// comes up, so failures surface only as cache misses at call time.
func New(addr, password string, db int) *Cache {
	if addr == "" {
		return &Cache{}
	}
	return &Cache{backend: &redisBackend{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}}
}

// NewWithBackend wraps an arbitrary Backend, primarily for tests.
func NewWithBackend(b Backend) *Cache { return &Cache{backend: b} }

// Disabled returns a Cache with no backend: every call is a deliberate
// no-op, useful for tests and for environments without Redis.
func Disabled() *Cache { return &Cache{} }

// Key computes SHA-256(obligation) ⊕ charter_hash, implemented here as a
// hash of the concatenation (the spec's "concatenation-then-hash"
// reading), via the canonicalize package's hash primitive.
func Key(obligation, charterHash string) string {
	return canonicalize.HashBytes([]byte(obligation + charterHash))
}

// Lookup returns (entry, true) on a cache hit, (zero, false) on a miss or
// unavailable backend. Unavailability is never surfaced as an error to
// the caller, per errs.ErrCacheUnavailable's "absorbed silently" handling.
func (c *Cache) Lookup(ctx context.Context, key string) (Entry, bool) {
	if c == nil || c.backend == nil {
		return Entry{}, false
	}

	vs, err := c.backend.Get(ctx, verdictKey(key))
	if err != nil {
		return Entry{}, false
	}

	entry := Entry{Passed: vs == verdictPass}

	if !entry.Passed {
		cx, cxErr := c.backend.Get(ctx, counterexampleKey(key))
		if cxErr == nil {
			entry.Counterexample = json.RawMessage(cx)
			entry.HasCounterexamp = true
		}
	}
	return entry, true
}

// Store writes the verdict and, for failures, the counterexample. Writes
// are best-effort: an error here is swallowed, never returned, and never
// alters what the caller has already decided to return.
func (c *Cache) Store(ctx context.Context, key string, passed bool, counterexample json.RawMessage) {
	if c == nil || c.backend == nil {
		return
	}

	flag := verdictFail
	if passed {
		flag = verdictPass
	}
	_ = c.backend.Set(ctx, verdictKey(key), flag, TTL)

	if !passed && len(counterexample) > 0 {
		_ = c.backend.Set(ctx, counterexampleKey(key), string(counterexample), TTL)
	}
}

// Unavailable reports whether the configured backend cannot presently be
// reached, wrapping errs.ErrCacheUnavailable for callers that wish to log
// it. Lookup/Store never need this — they already degrade silently.
func (c *Cache) Unavailable(ctx context.Context) error {
	if c == nil || c.backend == nil {
		return nil
	}
	if err := c.backend.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrCacheUnavailable, err)
	}
	return nil
}

func verdictKey(key string) string        { return verdictNamespace + ":" + key }
func counterexampleKey(key string) string { return counterexampleNamespace + ":" + key }

// redisBackend adapts *redis.Client to Backend.
type redisBackend struct {
	client *redis.Client
}

func (r *redisBackend) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *redisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// IsMiss reports whether err from a direct redis call represents an
// ordinary cache miss rather than a connectivity failure.
func IsMiss(err error) bool { return errors.Is(err, redis.Nil) }
