package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/rtguard/pkg/cache"
)

func newStore(t *testing.T) (*Store, cache.Cache) {
	t.Helper()
	c, err := cache.NewWithOptions(cache.WithMemory(cache.DefaultMemoryConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return NewStore(c, time.Hour), c
}

func TestSaveLookupDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	rec := Record{UserID: 12, Role: "admin", Active: true, PlatformID: 3, PlatformName: "web", PlatformType: "browser"}
	require.NoError(t, s.Save(ctx, "sid-1", rec))

	got, ok, err := s.Lookup(ctx, "sid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, *got)

	require.NoError(t, s.Delete(ctx, "sid-1"))
	got, ok, err = s.Lookup(ctx, "sid-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestLookupMissingOrMalformed(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)

	_, ok, err := s.Lookup(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Lookup(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "session:garbage", "definitely not json object", time.Minute))
	_, ok, err = s.Lookup(ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "anon", Record{Active: true}))
	_, ok, err = s.Lookup(ctx, "anon")
	require.NoError(t, err)
	assert.False(t, ok)
}

type brokenCache struct{ cache.Cache }

func (brokenCache) Get(context.Context, string, any) error {
	return cache.ErrCacheConnection.WithError(errors.New("dial tcp: refused"))
}

func TestLookupStoreFailure(t *testing.T) {
	s := NewStore(brokenCache{}, 0)
	_, ok, err := s.Lookup(context.Background(), "sid")
	assert.False(t, ok)
	assert.ErrorIs(t, err, cache.ErrCacheConnection)
}
