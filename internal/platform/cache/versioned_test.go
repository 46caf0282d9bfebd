package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewVersioned(client, time.Minute)
}

func TestFetchJSONPopulatesOnce(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	key, err := c.BuildKey(ctx, TagUserStats)
	require.NoError(t, err)

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return map[string]int{"total": 7}, nil
	}

	var got map[string]int
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 7, got["total"])

	var again map[string]int
	require.NoError(t, c.FetchJSON(ctx, key, &again, loader))
	require.Equal(t, 7, again["total"])
	require.Equal(t, 1, calls)
}

func TestBumpInvalidatesTag(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	before, err := c.BuildKey(ctx, TagUserStats)
	require.NoError(t, err)

	require.NoError(t, c.Bump(ctx, TagUserStats))

	after, err := c.BuildKey(ctx, TagUserStats)
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	// Other tags keep their version.
	roleKeyBefore, err := c.BuildKey(ctx, TagRoleList)
	require.NoError(t, err)
	require.NoError(t, c.Bump(ctx, TagUserStats))
	roleKeyAfter, err := c.BuildKey(ctx, TagRoleList)
	require.NoError(t, err)
	require.Equal(t, roleKeyBefore, roleKeyAfter)
}

func TestFetchJSONWithoutClientCallsLoader(t *testing.T) {
	var c *Versioned
	var got map[string]int
	err := c.FetchJSON(context.Background(), "admin:user_stats:1", &got, func(context.Context) (any, error) {
		return map[string]int{"total": 3}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, got["total"])
}
