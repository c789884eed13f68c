// Package session resolves opaque session credentials to guests. Token
// lookups are cached in Redis with a TTL so the hot path skips the database
// token index; the guests table stays authoritative for status and expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tutorlink/chat-app/internal/clock"
	"github.com/tutorlink/chat-app/internal/guest"
)

const (
	// keyPrefix is the Redis key prefix for token-to-guest mappings.
	keyPrefix = "session:"

	// DefaultCacheTTL bounds how long a token mapping is cached.
	DefaultCacheTTL = 1 * time.Hour
)

// ErrInvalidSession is returned for unknown or expired credentials.
var ErrInvalidSession = errors.New("session: invalid or expired")

// Resolver maps session tokens to guests.
type Resolver struct {
	rdb    *redis.Client
	guests *guest.Store
	clk    clock.Clock
	ttl    time.Duration
}

// NewResolver creates a resolver. rdb may be nil; resolution then always
// falls through to the database.
func NewResolver(rdb *redis.Client, guests *guest.Store, clk clock.Clock, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{rdb: rdb, guests: guests, clk: clk, ttl: ttl}
}

// Resolve returns the guest owning the token. Expired sessions resolve to
// ErrInvalidSession even when the row still exists.
func (r *Resolver) Resolve(ctx context.Context, token string) (*guest.Guest, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	if id := r.cachedID(ctx, token); id != "" {
		g, err := r.guests.GetByID(ctx, id)
		if err == nil && g.SessionToken == token && !g.Expired(r.clk.Now()) {
			return g, nil
		}
		// Stale mapping: token rotated or guest gone.
		r.invalidate(ctx, token)
	}

	g, err := r.guests.GetByToken(ctx, token)
	if errors.Is(err, guest.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("session: resolve: %w", err)
	}
	if g.Expired(r.clk.Now()) {
		return nil, ErrInvalidSession
	}

	r.cache(ctx, token, g.ID)
	return g, nil
}

// Invalidate drops the cached mapping for a token.
func (r *Resolver) Invalidate(ctx context.Context, token string) {
	r.invalidate(ctx, token)
}

func (r *Resolver) cachedID(ctx context.Context, token string) string {
	if r.rdb == nil {
		return ""
	}
	id, err := r.rdb.Get(ctx, keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return ""
	}
	if err != nil {
		// Cache trouble never fails a resolution; fall through to the DB.
		log.Printf("[session] cache get: %v", err)
		return ""
	}
	return id
}

func (r *Resolver) cache(ctx context.Context, token, guestID string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Set(ctx, keyPrefix+token, guestID, r.ttl).Err(); err != nil {
		log.Printf("[session] cache set: %v", err)
	}
}

func (r *Resolver) invalidate(ctx context.Context, token string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, keyPrefix+token).Err(); err != nil {
		log.Printf("[session] cache del: %v", err)
	}
}
