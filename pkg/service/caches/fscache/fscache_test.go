package fscache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/conflux/pkg/config"
	"github.com/ajitpratap0/conflux/pkg/errors"
	"github.com/ajitpratap0/conflux/pkg/service/core"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cfg := config.NewServiceConfig("filesystem_cache")
	cfg.Options["dir"] = filepath.Join(t.TempDir(), "cache")
	conn, err := New("local_cache", cfg)
	require.NoError(t, err)
	return conn.(*Cache)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New("broken", config.NewServiceConfig("filesystem_cache"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "queries", "q1", []byte("select 1")))

	ok, err := c.Has(ctx, "queries", "q1")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := c.Get(ctx, "queries", "q1")
	require.NoError(t, err)
	assert.Equal(t, []byte("select 1"), data)

	// Overwrite replaces the stored value
	require.NoError(t, c.Set(ctx, "queries", "q1", []byte("select 2")))
	data, err = c.Get(ctx, "queries", "q1")
	require.NoError(t, err)
	assert.Equal(t, []byte("select 2"), data)
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Get(context.Background(), "queries", "absent")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "queries", "q1", []byte("select 1")))
	require.NoError(t, c.Delete(ctx, "queries", "q1"))

	ok, err := c.Has(ctx, "queries", "q1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is a no-op
	require.NoError(t, c.Delete(ctx, "queries", "q1"))
}

func TestNamespacesAreIsolated(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "k", []byte("va")))
	require.NoError(t, c.Set(ctx, "b", "k", []byte("vb")))

	data, err := c.Get(ctx, "a", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("va"), data)

	require.NoError(t, c.Delete(ctx, "a", "k"))
	ok, err := c.Has(ctx, "b", "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKind(t *testing.T) {
	c := newTestCache(t)
	assert.Equal(t, core.KindCache, c.Kind())
}
