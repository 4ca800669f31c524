package clientid

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/pkg/db"
)

func newRegistry(t *testing.T, offset int) *Registry {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return NewRegistry(database, offset, nil)
}

func TestAllocateStartsAtOffset(t *testing.T) {
	r := newRegistry(t, 100)
	ctx := context.Background()

	id, err := r.Allocate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, id)

	next, err := r.Allocate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 101, next)

	require.NoError(t, r.Release(ctx, id))
	again, err := r.Allocate(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, again)
	assert.Equal(t, []int{100, 101}, r.Held())
}

func TestRequestedIDFallsBack(t *testing.T) {
	r := newRegistry(t, 100)
	ctx := context.Background()

	id, err := r.Allocate(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	id, err = r.Allocate(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 100, id)
}

func TestReleaseUnknown(t *testing.T) {
	r := newRegistry(t, 1)
	require.ErrorIs(t, r.Release(context.Background(), 42), ErrNotAllocated)
}

func TestConcurrentAllocationsAreDistinct(t *testing.T) {
	r := newRegistry(t, 100)
	ctx := context.Background()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = map[int]bool{}
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Allocate(ctx, 0)
			assert.NoError(t, err)
			mu.Lock()
			got[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, map[int]bool{100: true, 101: true, 102: true}, got)
}

func TestReleaseAllDropsOwnLocks(t *testing.T) {
	r := newRegistry(t, 1)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := r.Allocate(ctx, 0)
		require.NoError(t, err)
	}
	n, err := r.ReleaseAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	locked, err := r.Locked(ctx)
	require.NoError(t, err)
	assert.Empty(t, locked)
}
