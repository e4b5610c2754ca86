package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/notely/notely/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	// userCachePrefix is the Redis key prefix for cached user profiles.
	userCachePrefix = "user:profile:"
	// UserCacheTTL bounds how long a profile is served without touching PostgreSQL.
	UserCacheTTL = 5 * time.Minute
)

// CachedUser is the subset of a user stored in Redis. Credentials and OTP
// state are never cached.
type CachedUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// GetUser retrieves a cached user by ID.
// Returns nil if not found (cache miss).
func (c *Cache) GetUser(ctx context.Context, userID string) (*model.User, error) {
	data, err := c.client.Get(ctx, userCachePrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached user: %w", err)
	}

	var cached CachedUser
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted cache entry - treat as miss
		return nil, nil //nolint:nilerr
	}

	return cached.toModel(), nil
}

// SetUser caches the public fields of a user.
func (c *Cache) SetUser(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(newCachedUser(user))
	if err != nil {
		return fmt.Errorf("marshal cached user: %w", err)
	}

	return c.client.Set(ctx, userCachePrefix+user.ID, data, UserCacheTTL).Err()
}

func newCachedUser(user *model.User) CachedUser {
	return CachedUser{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Verified:  user.Verified,
		CreatedAt: user.CreatedAt,
	}
}

func (cu CachedUser) toModel() *model.User {
	return &model.User{
		ID:        cu.ID,
		Name:      cu.Name,
		Email:     cu.Email,
		Verified:  cu.Verified,
		CreatedAt: cu.CreatedAt,
	}
}
