package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/placescrawler/internal/kv/memory"
)

type countingKV struct {
	*memory.Store
	mu   sync.Mutex
	hits int
}

func (c *countingKV) Has(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return c.Store.Has(ctx, key)
}

type failingKV struct{ err error }

func (f failingKV) Has(context.Context, string) (bool, error) { return false, f.err }
func (f failingKV) Put(context.Context, string) (bool, error) { return false, f.err }
func (f failingKV) Close() error                              { return nil }

type racingKV struct{ *memory.Store }

// Put always reports the key as already written by someone else.
func (r *racingKV) Put(ctx context.Context, key string) (bool, error) {
	_, err := r.Store.Put(ctx, key)
	return false, err
}

func TestIsDuplicateFirstFalseThenTrue(t *testing.T) {
	t.Parallel()

	store := New("place", memory.New(), 10)
	ctx := context.Background()

	dup, err := store.IsDuplicate(ctx, "k")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = store.IsDuplicate(ctx, "k")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestIsDuplicateEmptyKey(t *testing.T) {
	t.Parallel()

	store := New("place", memory.New(), 10)
	for i := 0; i < 2; i++ {
		dup, err := store.IsDuplicate(context.Background(), "")
		require.NoError(t, err)
		assert.False(t, dup)
	}
	assert.Zero(t, store.Len())
}

func TestMemoryMirrorNeverExceedsCapacity(t *testing.T) {
	t.Parallel()

	store := New("review", memory.New(), 5)
	for i := 0; i < 50; i++ {
		_, err := store.IsDuplicate(context.Background(), fmt.Sprintf("k-%d", i%17))
		require.NoError(t, err)
		require.LessOrEqual(t, store.Len(), 5)
	}
}

func TestEvictedKeyIsPromotedFromPersistentStore(t *testing.T) {
	t.Parallel()

	kv := &countingKV{Store: memory.New()}
	store := New("place", kv, 2)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		dup, err := store.IsDuplicate(ctx, key)
		require.NoError(t, err)
		require.False(t, dup)
	}
	hitsBefore := kv.hits

	// "a" was evicted from memory but still lives in the persistent store.
	dup, err := store.IsDuplicate(ctx, "a")
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, hitsBefore+1, kv.hits)

	// Promotion made "a" the newest entry, so "b" is now the oldest and gone.
	_, err = store.IsDuplicate(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, hitsBefore+1, kv.hits, "memory hit should skip the persistent store")
	assert.False(t, store.inMemory("b"))
	assert.True(t, store.inMemory("c"))
}

func TestIsDuplicateConcurrentWriterWins(t *testing.T) {
	t.Parallel()

	store := New("place", &racingKV{Store: memory.New()}, 10)
	dup, err := store.IsDuplicate(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestIsDuplicatePropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	store := New("place", failingKV{err: boom}, 10)
	_, err := store.IsDuplicate(context.Background(), "k")
	require.ErrorIs(t, err, boom)
	assert.Zero(t, store.Len())
}

func TestIsDuplicateConcurrentCallers(t *testing.T) {
	t.Parallel()

	store := New("place", memory.New(), 0)
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		fresh  int
		ctx    = context.Background()
		worker = func() {
			defer wg.Done()
			dup, err := store.IsDuplicate(ctx, "shared")
			if err == nil && !dup {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go worker()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
}
