package lowbalance

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, threshold int) *Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTracker(client, threshold)
}

func TestTracker_Observe(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, 2)

	flagged, err := tr.Observe(ctx, map[string]int{"a": 0, "b": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, flagged)

	// Already flagged students are not reported again.
	flagged, err = tr.Observe(ctx, map[string]int{"a": 0, "c": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, flagged)

	members, err := tr.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, members)

	// Topped-up students leave the set.
	_, err = tr.Observe(ctx, map[string]int{"a": 10, "b": 5})
	require.NoError(t, err)
	members, err = tr.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, members)

	require.NoError(t, tr.Forget(ctx, "c"))
	members, err = tr.Members(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
}
