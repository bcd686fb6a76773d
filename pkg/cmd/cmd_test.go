package cmd_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/onboardflow/pkg/cmd"
	"github.com/dukex/onboardflow/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	t.Run("file url", func(t *testing.T) {
		p, err := cmd.NewPersistence(ctx, logger, "file://"+t.TempDir())
		require.NoError(t, err)
		assert.NoError(t, p.HealthCheck(ctx))
	})

	t.Run("bare path falls back to file", func(t *testing.T) {
		p, err := cmd.NewPersistence(ctx, logger, t.TempDir())
		require.NoError(t, err)
		assert.NotNil(t, p)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		_, err := cmd.NewPersistence(ctx, logger, "mongodb://localhost")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported persistence provider")
	})
}

func TestNewEventBus(t *testing.T) {
	bus, err := cmd.NewEventBus("gochannel", "test", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = cmd.NewEventBus("nats", "test", slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

func TestNewLocker(t *testing.T) {
	locker, err := cmd.NewLocker(context.Background(), slog.New(slog.DiscardHandler), "")
	require.NoError(t, err)
	assert.IsType(t, &lock.Local{}, locker)

	_, err = cmd.NewLocker(context.Background(), slog.New(slog.DiscardHandler), "etcd://localhost")
	assert.Error(t, err)
}

func TestNewDirectory(t *testing.T) {
	none, err := cmd.NewDirectory("", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)

	path := filepath.Join(t.TempDir(), "directory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users":{"u-1":{}},"groups":{},"units":{}}`), 0o600))

	dir, err := cmd.NewDirectory(path, time.Minute)
	require.NoError(t, err)

	exists, err := dir.UserExists(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = cmd.NewDirectory(filepath.Join(t.TempDir(), "missing.json"), time.Minute)
	assert.Error(t, err)
}
