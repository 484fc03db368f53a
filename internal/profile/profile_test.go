package profile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atsn/emily/internal/api"
	"github.com/atsn/emily/internal/types"
	"github.com/atsn/emily/store"
)

type fakeFetcher struct {
	calls   atomic.Int32
	profile *types.Profile
	err     error
}

func (f *fakeFetcher) GetProfile(context.Context) (*types.Profile, error) {
	f.calls.Add(1)
	return f.profile, f.err
}

func TestLoadFetchesOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fetcher := &fakeFetcher{profile: &types.Profile{BusinessName: "Acme"}}
	metrics := api.NewMetrics()
	cache := NewCache(s, fetcher, metrics, zaptest.NewLogger(t))

	first, err := cache.Load(ctx, "user-1")
	require.NoError(t, err)
	second, err := cache.Load(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, "Acme", first.BusinessName)
	assert.Equal(t, first, second)

	cached, found, err := s.Get(ctx, "profile:user-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"business_name": "Acme"}`, cached)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("hit")))
}

func TestConcurrentLoads(t *testing.T) {
	fetcher := &fakeFetcher{profile: &types.Profile{Name: "Sam"}}
	cache := NewCache(store.NewMemory(), fetcher, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			profile, err := cache.Load(context.Background(), "user-1")
			assert.NoError(t, err)
			assert.Equal(t, "Sam", profile.Name)
		}()
	}
	wg.Wait()
	// Loads are either collapsed or served by the cache.
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestLoadFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fetcher := &fakeFetcher{err: errors.Wrap(api.ErrTransport, "boom")}
	cache := NewCache(s, fetcher, nil, zaptest.NewLogger(t))

	profile, err := cache.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, profile)

	// Failures are not cached.
	_, found, err := s.Get(ctx, Key("user-1"))
	require.NoError(t, err)
	assert.False(t, found)
	_, err = cache.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestUnreadableEntryIsRefetched(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Set(ctx, Key("user-1"), "{not json"))
	fetcher := &fakeFetcher{profile: &types.Profile{BusinessName: "Acme"}}

	profile, err := NewCache(s, fetcher, nil, nil).Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", profile.BusinessName)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fetcher := &fakeFetcher{profile: &types.Profile{BusinessName: "Acme"}}
	cache := NewCache(s, fetcher, nil, nil)

	_, err := cache.Load(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "user-1"))
	_, found, err := s.Get(ctx, Key("user-1"))
	require.NoError(t, err)
	assert.False(t, found)

	_, err = cache.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestMissingUserID(t *testing.T) {
	cache := NewCache(store.NewMemory(), &fakeFetcher{}, nil, nil)
	_, err := cache.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingUserID)
	assert.ErrorIs(t, cache.Invalidate(context.Background(), ""), ErrMissingUserID)
}

// slowFetcher blocks until released.
type slowFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (f *slowFetcher) GetProfile(context.Context) (*types.Profile, error) {
	close(f.started)
	<-f.release
	return &types.Profile{BusinessName: "Acme"}, nil
}

func TestInvalidateDuringFetch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	fetcher := &slowFetcher{started: make(chan struct{}), release: make(chan struct{})}
	cache := NewCache(s, fetcher, nil, zaptest.NewLogger(t))

	loaded := make(chan *types.Profile)
	go func() {
		profile, _ := cache.Load(ctx, "user-1")
		loaded <- profile
	}()
	<-fetcher.started
	require.NoError(t, cache.Invalidate(ctx, "user-1"))
	close(fetcher.release)
	require.NotNil(t, <-loaded)

	_, found, err := s.Get(ctx, Key("user-1"))
	require.NoError(t, err)
	assert.False(t, found)
}
