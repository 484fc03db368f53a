package dashboard

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/atsn/emily/app"
	dash "github.com/atsn/emily/dashboard"
	"github.com/atsn/emily/internal/configuration"
)

func testApp(t *testing.T) *app.App {
	config, err := configuration.Default()
	require.NoError(t, err)
	config.Storage.Path = filepath.Join(t.TempDir(), "storage.db")
	a, err := app.NewApp(context.Background(), config, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewAggregatorFlags(t *testing.T) {
	ctx := context.Background()
	a := testApp(t)

	t.Run("reminders disabled", func(t *testing.T) {
		aggregator, err := newAggregator(ctx, a, "", false)
		require.NoError(t, err)
		assert.False(t, aggregator.Snapshot().PanelOpen)
	})

	t.Run("reminders enabled", func(t *testing.T) {
		aggregator, err := newAggregator(ctx, a, "chase", true)
		require.NoError(t, err)
		snapshot := aggregator.Snapshot()
		assert.True(t, snapshot.PanelOpen)
		assert.Equal(t, "chase", snapshot.Filter)
	})

	t.Run("unknown filter", func(t *testing.T) {
		_, err := newAggregator(ctx, a, "nobody", true)
		assert.ErrorIs(t, err, dash.ErrUnknownFilter)
	})
}
