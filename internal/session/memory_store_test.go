package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	memTestTTL   = time.Hour
	memTestToken = "tok-1"
)

// fakeClock is a settable time source for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemoryStore() (*MemoryStore, *fakeClock) {
	clock := newFakeClock()
	store := NewMemoryStore(StoreOptions{TTL: memTestTTL})
	store.now = clock.Now
	return store, clock
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store, _ := newTestMemoryStore()
	ctx := context.Background()

	created, err := store.Create(ctx, memTestToken, Record{Balance: 7})
	require.NoError(t, err)
	assert.True(t, created)

	got, err := store.Get(ctx, memTestToken)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(7), got.Balance)
}

func TestMemoryStore_CreateDoesNotOverwriteLive(t *testing.T) {
	store, _ := newTestMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, memTestToken, Record{Balance: 7})
	require.NoError(t, err)

	created, err := store.Create(ctx, memTestToken, Record{Balance: 0})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.Get(ctx, memTestToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Balance)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store, _ := newTestMemoryStore()

	got, err := store.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_SlidingExpiry(t *testing.T) {
	store, clock := newTestMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, memTestToken, Record{Balance: 3}))

	// Each read inside the window pushes expiry forward.
	for i := 0; i < 3; i++ {
		clock.Advance(memTestTTL - time.Minute)
		got, err := store.Get(ctx, memTestToken)
		require.NoError(t, err)
		require.NotNil(t, got, "read %d should still see the record", i)
	}

	clock.Advance(memTestTTL)
	got, err := store.Get(ctx, memTestToken)
	require.NoError(t, err)
	assert.Nil(t, got, "idle past the TTL should expire")
}

func TestMemoryStore_ExpiredCanBeRecreated(t *testing.T) {
	store, clock := newTestMemoryStore()
	ctx := context.Background()

	_, err := store.Create(ctx, memTestToken, Record{Balance: 9})
	require.NoError(t, err)

	clock.Advance(memTestTTL)

	created, err := store.Create(ctx, memTestToken, Record{})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMemoryStore_Update(t *testing.T) {
	store, _ := newTestMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, memTestToken, Record{Balance: 10}))

	got, err := store.Update(ctx, memTestToken, func(rec *Record) error {
		rec.Balance += 5
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Balance)
	assert.Equal(t, int64(1), got.Version)

	stored, err := store.Get(ctx, memTestToken)
	require.NoError(t, err)
	assert.Equal(t, int64(15), stored.Balance)
}

func TestMemoryStore_UpdateAbortsOnError(t *testing.T) {
	store, _ := newTestMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, memTestToken, Record{Balance: 10}))

	boom := errors.New("boom")
	_, err := store.Update(ctx, memTestToken, func(rec *Record) error {
		rec.Balance = 999
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := store.Get(ctx, memTestToken)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Balance)
	assert.Equal(t, int64(0), stored.Version)
}

func TestMemoryStore_UpdateNotFound(t *testing.T) {
	store, _ := newTestMemoryStore()

	_, err := store.Update(context.Background(), "missing", func(*Record) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	store, _ := newTestMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, memTestToken, Record{}))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, memTestToken, func(rec *Record) error {
				rec.Balance++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, memTestToken)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.Balance)
	assert.Equal(t, int64(workers), got.Version)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store, _ := newTestMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, memTestToken, Record{
		Balance:  1,
		LastSpin: &SpinReceipt{Key: "k", NewBalance: 1},
	}))

	got, err := store.Get(ctx, memTestToken)
	require.NoError(t, err)
	got.Balance = 100
	got.LastSpin.Key = "mutated"

	again, err := store.Get(ctx, memTestToken)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Balance)
	assert.Equal(t, "k", again.LastSpin.Key)
}

func TestMemoryStore_Cleanup(t *testing.T) {
	store, clock := newTestMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", Record{}))
	clock.Advance(memTestTTL / 2)
	require.NoError(t, store.Put(ctx, "b", Record{}))
	clock.Advance(memTestTTL / 2)

	require.NoError(t, store.Cleanup(ctx))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.entries, "a")
	assert.Contains(t, store.entries, "b")
}

func TestMemoryStore_CloseWithoutCleanup(t *testing.T) {
	store := NewMemoryStore(StoreOptions{})
	assert.NoError(t, store.Close())

	store.StartCleanupRoutine(10 * time.Millisecond)
	assert.NoError(t, store.Close())
}

func TestMemoryStore_PutSkipsVersionCheck(t *testing.T) {
	store, _ := newTestMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, memTestToken, Record{Balance: 1, Version: 9}))
	require.NoError(t, store.Put(ctx, memTestToken, Record{Balance: 2, Version: 0}))

	got, err := store.Get(ctx, memTestToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Balance)
	assert.Equal(t, int64(0), got.Version)
}
