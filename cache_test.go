package hotlru

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Borislavv/go-hotlru-cache/config"
)

// TestNew_Validation verifies construction fails on out-of-range options.
func TestNew_Validation(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig(1 << 20)
	cfg.DB.ShardBits = 20
	_, err := New(ctx, cfg, slog.Default(), nil)
	require.ErrorIs(t, err, config.ErrShardBits)

	cfg = DefaultConfig(1 << 20)
	cfg.DB.HighPriPoolRatio = -0.1
	_, err = New(ctx, cfg, slog.Default(), nil)
	require.ErrorIs(t, err, config.ErrHighPriPoolRatio)
}

// TestNew_RoundTrip verifies the public surface end to end.
func TestNew_RoundTrip(t *testing.T) {
	c, err := New(context.Background(), DefaultConfig(1<<20), slog.Default(), nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	freed := 0
	deleter := func(key []byte, value any) { freed++ }
	require.Equal(t, StatusOk, c.Insert([]byte("k"), "v", 16, deleter, PriorityHigh))

	h := c.Lookup([]byte("k"), PriorityLow)
	require.NotNil(t, h)
	require.Equal(t, "v", h.Value())
	require.Equal(t, int64(16), h.Charge())
	require.False(t, c.Release(h, false))

	c.Erase([]byte("k"))
	require.Equal(t, 1, freed)
}

// TestDefaultConfig_AutoShards verifies the default config resolves its
// automatic fields through New.
func TestDefaultConfig_AutoShards(t *testing.T) {
	cfg := DefaultConfig(64 << 20)
	c, err := New(context.Background(), cfg, slog.Default(), nil)
	require.NoError(t, err)
	defer c.Close()

	require.GreaterOrEqual(t, cfg.DB.ShardBits, 0, "auto shard bits resolved")
	require.True(t, cfg.HotIndex.Enabled())
	require.NotZero(t, cfg.HotIndex.Stamps())
	require.GreaterOrEqual(t, c.RegisterWorker(), 0)
}
