package macro

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	store := NewRedis(Config{Addr: mr.Addr(), TTL: time.Hour}, zerolog.Nop())
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestKey(t *testing.T) {
	assert.Equal(t, "saucedemo.com:checkout:abc123", Key("saucedemo.com", "checkout", "abc123"))
}

func TestRoundTrip(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	in := Macro{
		Actions:      []string{"click the Checkout button"},
		SuccessCount: 1,
		LastSuccess:  time.Now().UTC().Truncate(time.Second),
		Query:        "click the Checkout button",
	}
	store.Set(ctx, "saucedemo.com", "checkout", "fp1", in)

	out, ok := store.Get(ctx, "saucedemo.com", "checkout", "fp1")
	require.True(t, ok)
	assert.Equal(t, in.Actions, out.Actions)
	assert.Equal(t, 1, out.SuccessCount)
	assert.Equal(t, in.Query, out.Query)
}

func TestGetAbsent(t *testing.T) {
	_, store := newTestStore(t)

	_, ok := store.Get(context.Background(), "saucedemo.com", "checkout", "missing")
	assert.False(t, ok)
	assert.Equal(t, int64(1), store.Stats().Misses)
	assert.Zero(t, store.Stats().Hits)
}

func TestOverwriteResetsTTL(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "d", "i", "fp", Macro{Actions: []string{"click A"}})
	mr.FastForward(30 * time.Minute)
	store.Set(ctx, "d", "i", "fp", Macro{Actions: []string{"click B"}})
	mr.FastForward(45 * time.Minute)

	// 75 minutes after the first write but only 45 after the overwrite:
	// the key must still be alive and hold the newer action.
	out, ok := store.Get(ctx, "d", "i", "fp")
	require.True(t, ok)
	assert.Equal(t, "click B", out.Action())
}

func TestExpiry(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "d", "i", "fp", Macro{Actions: []string{"click A"}})
	mr.FastForward(2 * time.Hour)

	_, ok := store.Get(ctx, "d", "i", "fp")
	assert.False(t, ok)
}

func TestUnreachableBackendDegrades(t *testing.T) {
	mr, store := newTestStore(t)
	ctx := context.Background()
	mr.Close()

	// Neither call may error or panic; get reports absent, set is dropped.
	store.Set(ctx, "d", "i", "fp", Macro{Actions: []string{"click A"}})
	_, ok := store.Get(ctx, "d", "i", "fp")
	assert.False(t, ok)
	assert.NotZero(t, store.Stats().Errors)
}

func TestCorruptPayloadTreatedAsAbsent(t *testing.T) {
	mr, store := newTestStore(t)

	require.NoError(t, mr.Set(Key("d", "i", "fp"), "{not json"))
	_, ok := store.Get(context.Background(), "d", "i", "fp")
	assert.False(t, ok)
}

func TestDisabledStore(t *testing.T) {
	store := Disabled()
	ctx := context.Background()

	store.Set(ctx, "d", "i", "fp", Macro{Actions: []string{"click A"}})
	_, ok := store.Get(ctx, "d", "i", "fp")
	assert.False(t, ok)
	assert.Equal(t, Stats{}, store.Stats())
}
