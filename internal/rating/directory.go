// Package rating resolves user ratings and identities through a Redis
// read-through cache in front of the identity provider.
package rating

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/park285/threeslide-arena/internal/identity"
	"github.com/park285/threeslide-arena/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "rating:user:"
	defaultTTL = 5 * time.Minute
)

// Provider is the authoritative user source; *identity.Client satisfies it.
type Provider interface {
	Me(ctx context.Context, token string) (*identity.User, error)
	User(ctx context.Context, id string) (*identity.User, error)
}

type Directory struct {
	provider Provider
	rdb      *redis.Client // nil: pass-through
	ttl      time.Duration
}

func NewDirectory(provider Provider, rdb *redis.Client, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Directory{provider: provider, rdb: rdb, ttl: ttl}
}

func key(userID string) string { return keyPrefix + userID }

// Rating returns the current rating of userID.
func (d *Directory) Rating(ctx context.Context, userID string) (int, error) {
	u, err := d.Lookup(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Rating, nil
}

// Lookup returns the cached user or fetches and caches it.
func (d *Directory) Lookup(ctx context.Context, userID string) (*identity.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, identity.ErrUnknownUser
	}
	if u := d.cached(ctx, userID); u != nil {
		return u, nil
	}
	u, err := d.provider.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

// Authenticate validates token with the provider and refreshes the cache
// entry of the resolved user.
func (d *Directory) Authenticate(ctx context.Context, token string) (*identity.User, error) {
	u, err := d.provider.Me(ctx, token)
	if err != nil {
		if !errors.Is(err, identity.ErrAuthentication) {
			obslog.L().Warn("identity_auth_error", zap.Error(err))
		}
		return nil, err
	}
	d.store(ctx, u)
	return u, nil
}

// Invalidate drops the cached entry of userID.
func (d *Directory) Invalidate(ctx context.Context, userID string) error {
	if d.rdb == nil {
		return nil
	}
	return d.rdb.Del(ctx, key(strings.TrimSpace(userID))).Err()
}

func (d *Directory) cached(ctx context.Context, userID string) *identity.User {
	if d.rdb == nil {
		return nil
	}
	raw, err := d.rdb.Get(ctx, key(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			obslog.L().Warn("rating_cache_error", zap.String("op", "get"), zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	var u identity.User
	if err := json.Unmarshal(raw, &u); err != nil || u.ID == "" {
		obslog.L().Warn("rating_cache_corrupt", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return &u
}

func (d *Directory) store(ctx context.Context, u *identity.User) {
	if d.rdb == nil || u == nil || u.ID == "" {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	if err := d.rdb.Set(ctx, key(u.ID), raw, d.ttl).Err(); err != nil {
		obslog.L().Warn("rating_cache_error", zap.String("op", "set"), zap.String("user_id", u.ID), zap.Error(err))
	}
}
