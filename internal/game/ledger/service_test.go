package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ActiveTutorial/gamble-to-depression/internal/game"
	"github.com/ActiveTutorial/gamble-to-depression/internal/game/settlement"
	"github.com/ActiveTutorial/gamble-to-depression/internal/session"
)

const testToken = "9b2f6a0e-5d1c-4c5e-8f3a-2b7d9e4c1a60"

// countingSettler records how many spins were actually settled.
type countingSettler struct {
	engine *settlement.Engine
	calls  atomic.Int64
}

func (s *countingSettler) Settle(balance int64, risk float64) settlement.Outcome {
	s.calls.Add(1)
	return s.engine.Settle(balance, risk)
}

// failingStore fails every call with err.
type failingStore struct {
	err error
}

func (s failingStore) Get(context.Context, string) (*session.Record, error) {
	return nil, s.err
}

func (s failingStore) Create(context.Context, string, session.Record) (bool, error) {
	return false, s.err
}

func (s failingStore) Put(context.Context, string, session.Record) error {
	return s.err
}

func (s failingStore) Update(context.Context, string, session.MutateFunc) (*session.Record, error) {
	return nil, s.err
}

func (s failingStore) Close() error {
	return nil
}

func newTestService(t *testing.T, u float64, balance int64) (*Service, *session.MemoryStore, *countingSettler) {
	t.Helper()

	store := session.NewMemoryStore(session.StoreOptions{})
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Put(context.Background(), testToken, session.Record{Balance: balance}))

	settler := &countingSettler{engine: settlement.NewEngine(settlement.Fixed(u))}
	return NewService(store, settler), store, settler
}

func storedBalance(t *testing.T, store session.Store) int64 {
	t.Helper()

	rec, err := store.Get(context.Background(), testToken)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec.Balance
}

func TestSpin_Settles(t *testing.T) {
	tests := []struct {
		name    string
		u       float64
		balance int64
		risk    float64
		want    SpinResult
	}{
		{"win", 0.75, 500, 100, SpinResult{NewBalance: 548, NetChange: 48}},
		{"loss", 0.25, 500, 100, SpinResult{NewBalance: 448, NetChange: -52}},
		{"zero risk pays the edge", 0.9, 500, 0, SpinResult{NewBalance: 498, NetChange: -2}},
		{"risk capped by balance", 0.75, 10, 1000, SpinResult{NewBalance: 13, NetChange: 3}},
		{"floored at zero", 0, 100, 100, SpinResult{NewBalance: 0, NetChange: -100}},
		{"fractional risk", 0.75, 500, 0.5, SpinResult{NewBalance: 498, NetChange: -2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService(t, tt.u, tt.balance)

			got, err := svc.Spin(context.Background(), testToken, SpinRequest{Risk: tt.risk})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.NewBalance, storedBalance(t, store))
			assert.Equal(t, tt.balance+got.NetChange, got.NewBalance)
		})
	}
}

func TestSpin_ClientBalanceIgnored(t *testing.T) {
	svc, store, _ := newTestService(t, 0.75, 500)

	claimed := 1e9
	got, err := svc.Spin(context.Background(), testToken, SpinRequest{
		Risk:          100,
		ClientBalance: &claimed,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(548), got.NewBalance)
	assert.Equal(t, int64(548), storedBalance(t, store))
}

func TestSpin_Validation(t *testing.T) {
	svc, store, settler := newTestService(t, 0.75, 500)

	for _, risk := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := svc.Spin(context.Background(), testToken, SpinRequest{Risk: risk})
		assert.ErrorIs(t, err, game.Validation(""), "risk %v", risk)
	}

	assert.Equal(t, int64(0), settler.calls.Load())
	assert.Equal(t, int64(500), storedBalance(t, store))
}

func TestSpin_SessionErrors(t *testing.T) {
	svc, _, settler := newTestService(t, 0.75, 500)
	ctx := context.Background()

	_, err := svc.Spin(ctx, "", SpinRequest{Risk: 1})
	assert.ErrorIs(t, err, game.ErrSessionMissing)

	_, err = svc.Spin(ctx, "not-a-token", SpinRequest{Risk: 1})
	assert.ErrorIs(t, err, game.ErrSessionNotFound)

	unknown, err := session.NewToken()
	require.NoError(t, err)
	_, err = svc.Spin(ctx, unknown, SpinRequest{Risk: 1})
	assert.ErrorIs(t, err, game.ErrSessionNotFound)

	assert.Equal(t, int64(0), settler.calls.Load())
}

func TestSpin_IdempotentReplay(t *testing.T) {
	svc, store, settler := newTestService(t, 0.75, 500)
	ctx := context.Background()

	first, err := svc.Spin(ctx, testToken, SpinRequest{Risk: 100, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := svc.Spin(ctx, testToken, SpinRequest{Risk: 100, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.NewBalance, again.NewBalance)
	assert.Equal(t, first.NetChange, again.NetChange)
	assert.Equal(t, int64(1), settler.calls.Load())
	assert.Equal(t, int64(548), storedBalance(t, store))

	next, err := svc.Spin(ctx, testToken, SpinRequest{Risk: 100, IdempotencyKey: "req-2"})
	require.NoError(t, err)
	assert.False(t, next.Replayed)
	assert.Equal(t, int64(596), next.NewBalance)
	assert.Equal(t, int64(2), settler.calls.Load())
}

func TestSpin_WithoutKeyAlwaysSettles(t *testing.T) {
	svc, _, settler := newTestService(t, 0.5, 500)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Spin(ctx, testToken, SpinRequest{Risk: 10})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), settler.calls.Load())
}

func TestSpin_ConcurrentSpinsAllApplied(t *testing.T) {
	svc, store, _ := newTestService(t, 0.5, 1000)
	ctx := context.Background()

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Spin(ctx, testToken, SpinRequest{Risk: 10})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Every spin at u=0.5 costs exactly the house edge.
	assert.Equal(t, int64(1000+workers*settlement.HouseEdge), storedBalance(t, store))
}

func TestSpin_StoreFailure(t *testing.T) {
	settler := settlement.NewEngine(settlement.Fixed(0.5))

	svc := NewService(failingStore{err: errors.New("connection refused")}, settler)
	_, err := svc.Spin(context.Background(), testToken, SpinRequest{Risk: 1})
	assert.ErrorIs(t, err, game.StoreUnavailable(nil))
	assert.True(t, game.Retryable(game.KindOf(err)))

	svc = NewService(failingStore{err: session.ErrConflict}, settler)
	_, err = svc.Spin(context.Background(), testToken, SpinRequest{Risk: 1})
	assert.ErrorIs(t, err, game.StoreUnavailable(nil))
	assert.ErrorIs(t, err, session.ErrConflict)
}

func TestBalance(t *testing.T) {
	svc, _, _ := newTestService(t, 0.5, 321)
	ctx := context.Background()

	got, err := svc.Balance(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(321), got)

	_, err = svc.Balance(ctx, "")
	assert.ErrorIs(t, err, game.ErrSessionMissing)

	unknown, err := session.NewToken()
	require.NoError(t, err)
	_, err = svc.Balance(ctx, unknown)
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
}

func TestBalance_StoreFailure(t *testing.T) {
	svc := NewService(failingStore{err: errors.New("timeout")}, settlement.NewEngine(nil))

	_, err := svc.Balance(context.Background(), testToken)
	assert.ErrorIs(t, err, game.StoreUnavailable(nil))
}

func TestSetBalance(t *testing.T) {
	svc, store, settler := newTestService(t, 0.75, 0)
	ctx := context.Background()

	require.NoError(t, svc.SetBalance(ctx, testToken, 500))
	assert.Equal(t, int64(500), storedBalance(t, store))

	_, err := svc.Spin(ctx, testToken, SpinRequest{Risk: 100, IdempotencyKey: "k"})
	require.NoError(t, err)

	// An override clears the receipt so the same key settles again.
	require.NoError(t, svc.SetBalance(ctx, testToken, 500))
	got, err := svc.Spin(ctx, testToken, SpinRequest{Risk: 100, IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, got.Replayed)
	assert.Equal(t, int64(2), settler.calls.Load())
}

func TestSetBalance_Validation(t *testing.T) {
	svc, store, _ := newTestService(t, 0.5, 7)
	ctx := context.Background()

	assert.ErrorIs(t, svc.SetBalance(ctx, testToken, -1), game.Validation(""))
	assert.ErrorIs(t, svc.SetBalance(ctx, testToken, MaxBalance+1), game.Validation(""))
	assert.Equal(t, int64(7), storedBalance(t, store))

	require.NoError(t, svc.SetBalance(ctx, testToken, MaxBalance))

	assert.ErrorIs(t, svc.SetBalance(ctx, "", 1), game.ErrSessionMissing)
	assert.ErrorIs(t, svc.SetBalance(ctx, "bogus", 1), game.ErrSessionNotFound)
}

func TestSpin_WinsNeverPassMaxBalance(t *testing.T) {
	svc, store, _ := newTestService(t, 0.999, 0)
	ctx := context.Background()

	require.NoError(t, svc.SetBalance(ctx, testToken, MaxBalance))

	for i := 0; i < 20; i++ {
		got, err := svc.Spin(ctx, testToken, SpinRequest{Risk: math.MaxFloat64})
		require.NoError(t, err)
		assert.Equal(t, int64(MaxBalance), got.NewBalance, "spin %d", i)
		assert.Equal(t, int64(0), got.NetChange, "spin %d", i)
	}
	assert.Equal(t, int64(MaxBalance), storedBalance(t, store))
}
