package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// oauthStatePrefix is the Redis key prefix for pending OAuth states.
	oauthStatePrefix = "oauth:state:"
	// OAuthStateTTL is how long a user has to finish the provider round trip.
	OAuthStateTTL = 10 * time.Minute
)

// ErrStateExists is returned when an OAuth state value is already pending.
var ErrStateExists = errors.New("oauth state already exists")

// SaveOAuthState records a pending OAuth state value.
func (c *Cache) SaveOAuthState(ctx context.Context, state string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = OAuthStateTTL
	}

	ok, err := c.client.SetNX(ctx, oauthStatePrefix+state, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	if !ok {
		return ErrStateExists
	}
	return nil
}

// ConsumeOAuthState atomically deletes a pending state and reports whether it
// existed. A state can be consumed once.
func (c *Cache) ConsumeOAuthState(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}

	_, err := c.client.GetDel(ctx, oauthStatePrefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("consume oauth state: %w", err)
	}
	return true, nil
}
