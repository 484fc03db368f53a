package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPollInterval = 10 * time.Millisecond

type opener func(t *testing.T, path string) Store

func fileBackends() map[string]opener {
	return map[string]opener{
		DriverSQLite: func(t *testing.T, path string) Store {
			s, err := NewSQLite(&Opts{Path: path + ".db", PollInterval: testPollInterval})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		DriverBolt: func(t *testing.T, path string) Store {
			s, err := NewBolt(&Opts{Path: path + ".bolt", PollInterval: testPollInterval})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func allBackends() map[string]opener {
	backends := fileBackends()
	backends[DriverMemory] = func(t *testing.T, _ string) Store {
		s := NewMemory()
		t.Cleanup(func() { s.Close() })
		return s
	}
	return backends
}

func TestGetSetRemove(t *testing.T) {
	ctx := context.Background()
	for name, open := range allBackends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, filepath.Join(t.TempDir(), "kv"))

			_, found, err := s.Get(ctx, "darkMode")
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Set(ctx, "darkMode", "false"))
			value, found, err := s.Get(ctx, "darkMode")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "false", value)

			require.NoError(t, s.Set(ctx, "darkMode", "true"))
			value, _, err = s.Get(ctx, "darkMode")
			require.NoError(t, err)
			assert.Equal(t, "true", value)

			require.NoError(t, s.Remove(ctx, "darkMode"))
			_, found, err = s.Get(ctx, "darkMode")
			require.NoError(t, err)
			assert.False(t, found)

			// Removing a missing key is fine.
			require.NoError(t, s.Remove(ctx, "missing"))
		})
	}
}

func TestLocalSubscribersSeeWritesImmediately(t *testing.T) {
	ctx := context.Background()
	for name, open := range allBackends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, filepath.Join(t.TempDir(), "kv"))
			changes, cancel := s.Subscribe()
			defer cancel()

			require.NoError(t, s.Set(ctx, "darkMode", "false"))
			change := <-changes
			assert.Equal(t, Change{Key: "darkMode", Value: "false", Origin: s.Origin(), Local: true}, change)

			require.NoError(t, s.Remove(ctx, "darkMode"))
			change = <-changes
			assert.True(t, change.Removed)
			assert.True(t, change.Local)
		})
	}
}

func TestForeignWritesPropagate(t *testing.T) {
	ctx := context.Background()
	for name, open := range fileBackends() {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "shared")
			first := open(t, path)
			second := open(t, path)
			require.NotEqual(t, first.Origin(), second.Origin())

			changes, cancel := second.Subscribe()
			defer cancel()

			require.NoError(t, first.Set(ctx, "darkMode", "false"))
			select {
			case change := <-changes:
				assert.Equal(t, "darkMode", change.Key)
				assert.Equal(t, "false", change.Value)
				assert.Equal(t, first.Origin(), change.Origin)
				assert.False(t, change.Local)
			case <-time.After(2 * time.Second):
				t.Fatal("foreign write was not observed")
			}

			value, found, err := second.Get(ctx, "darkMode")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "false", value)
		})
	}
}

func TestOwnWritesAreNotRepublished(t *testing.T) {
	ctx := context.Background()
	s := fileBackends()[DriverSQLite](t, filepath.Join(t.TempDir(), "kv"))
	changes, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Set(ctx, "k", "v"))
	<-changes

	select {
	case change := <-changes:
		t.Fatalf("unexpected change %+v", change)
	case <-time.After(10 * testPollInterval):
	}
}

func TestSubscriptionCancel(t *testing.T) {
	s := NewMemory()
	changes, cancel := s.Subscribe()
	cancel()
	cancel()
	_, ok := <-changes
	assert.False(t, ok)
	require.NoError(t, s.Set(context.Background(), "k", "v"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, &Opts{Driver: DriverMemory})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, &Opts{Driver: "redis"})
	assert.ErrorIs(t, err, ErrUnknownDriver)

	// The sqlite driver without a path cannot open and degrades to memory.
	degraded := OpenOrMemory(ctx, &Opts{Driver: DriverSQLite})
	_, ok := degraded.(*Memory)
	assert.True(t, ok)
}
