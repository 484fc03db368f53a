package profile

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atsn/emily/internal/api"
	"github.com/atsn/emily/internal/types"
	"github.com/atsn/emily/store"
)

const keyPrefix = "profile:"

// ErrMissingUserID is returned for an empty user id.
var ErrMissingUserID = errors.New("missing user id")

// Key is the store key of the cached profile of userID.
func Key(userID string) string {
	return keyPrefix + userID
}

// Fetcher retrieves the profile of the signed in user.
type Fetcher interface {
	GetProfile(ctx context.Context) (*types.Profile, error)
}

// Cache is a read-through cache of the onboarding profile. Entries never expire.
type Cache struct {
	store   store.Store
	fetcher Fetcher
	logger  *zap.Logger
	metrics *api.Metrics
	group   singleflight.Group

	// epochs counts the invalidations of each user. A fetch only writes through
	// when no invalidation happened while it ran.
	mu     sync.Mutex
	epochs map[string]uint64
}

// NewCache returns a cache over s. metrics may be nil.
func NewCache(s store.Store, fetcher Fetcher, metrics *api.Metrics, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: s, fetcher: fetcher, metrics: metrics, logger: logger, epochs: map[string]uint64{}}
}

// Load returns the profile of userID, from the cache when present.
// A failed fetch yields a nil profile and no error.
func (c *Cache) Load(ctx context.Context, userID string) (*types.Profile, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	value, err, _ := c.group.Do(userID, func() (any, error) {
		return c.load(ctx, userID), nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*types.Profile), nil
}

func (c *Cache) load(ctx context.Context, userID string) *types.Profile {
	key := Key(userID)
	logger := c.logger.With(zap.String("user_id", userID))

	c.mu.Lock()
	epoch := c.epochs[userID]
	c.mu.Unlock()

	cached, found, err := c.store.Get(ctx, key)
	if err != nil {
		logger.Debug("reading cached profile", zap.Error(err))
	}
	if found {
		profile := &types.Profile{}
		if err := json.Unmarshal([]byte(cached), profile); err == nil {
			c.lookup("hit")
			return profile
		}
		logger.Debug("discarding unreadable cached profile")
	}
	c.lookup("miss")

	profile, err := c.fetcher.GetProfile(ctx)
	if err != nil {
		logger.Warn("fetching profile", zap.Error(err))
		return nil
	}
	bytes, err := json.Marshal(profile)
	if err != nil {
		logger.Warn("marshaling profile", zap.Error(err))
		return profile
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epochs[userID] != epoch {
		logger.Debug("profile invalidated while fetching, not caching")
		return profile
	}
	if err := c.store.Set(ctx, key, string(bytes)); err != nil {
		logger.Debug("caching profile", zap.Error(err))
	}
	return profile
}

// Invalidate removes the cached profile of userID.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUserID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochs[userID]++
	c.group.Forget(userID)
	if err := c.store.Remove(ctx, Key(userID)); err != nil {
		return errors.Wrap(err, "removing cached profile")
	}
	return nil
}

func (c *Cache) lookup(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
