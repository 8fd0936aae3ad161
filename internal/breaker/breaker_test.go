package breaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *MemoryStore) {
	store := NewMemoryStore()
	return New(store, threshold, cooldown), store
}

func TestBreaker_TripsAtExactThreshold(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "player_summary"))
	}
	rec, err := store.Get(ctx, "player_summary")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State, "4 failures must not trip a threshold of 5")

	d, err := b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, b.RecordFailure(ctx, "player_summary"))
	rec, err = store.Get(ctx, "player_summary")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, rec.State)

	d, err = b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, StateOpen, d.State)
	assert.Positive(t, d.RetryAfter)
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RecordFailure(ctx, "player_summary"))
	}
	require.NoError(t, b.RecordSuccess(ctx, "player_summary"))
	require.NoError(t, b.RecordFailure(ctx, "player_summary"))

	rec, err := store.Get(ctx, "player_summary")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Equal(t, 1, rec.ConsecutiveFailures)
}

func TestBreaker_CooldownGrantsSingleProbe(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBreaker(1, time.Minute)

	require.NoError(t, b.RecordFailure(ctx, "player_summary"))

	// Move the clock past the cool-down.
	past := time.Now().Add(-2 * time.Minute)
	rec, _ := store.Get(ctx, "player_summary")
	rec.LastFailureAt = &past
	store.records["player_summary"] = rec

	var mu sync.Mutex
	probes := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := b.Allow(ctx, "player_summary")
			require.NoError(t, err)
			if d.Probe {
				mu.Lock()
				probes++
				mu.Unlock()
				assert.True(t, d.Allowed)
			} else {
				assert.False(t, d.Allowed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, probes, "exactly one caller gets the half-open probe")
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBreaker(1, time.Nanosecond)

	require.NoError(t, b.RecordFailure(ctx, "player_summary"))
	time.Sleep(time.Millisecond)

	d, err := b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	require.True(t, d.Probe)

	require.NoError(t, b.RecordSuccess(ctx, "player_summary"))

	rec, err := store.Get(ctx, "player_summary")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Zero(t, rec.ConsecutiveFailures)

	d, err = b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBreaker(1, time.Nanosecond)

	require.NoError(t, b.RecordFailure(ctx, "player_summary"))
	time.Sleep(time.Millisecond)

	d, err := b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	require.True(t, d.Probe)

	require.NoError(t, b.RecordFailure(ctx, "player_summary"))

	rec, err := store.Get(ctx, "player_summary")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, rec.State)
}

func TestBreaker_HalfOpenDeniesNonProbeCallers(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBreaker(1, time.Minute)

	require.NoError(t, b.RecordFailure(ctx, "player_summary"))
	past := time.Now().Add(-2 * time.Minute)
	rec, _ := store.Get(ctx, "player_summary")
	rec.LastFailureAt = &past
	store.records["player_summary"] = rec

	d, err := b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	require.True(t, d.Probe)

	d, err = b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, StateHalfOpen, d.State)
	assert.Positive(t, d.RetryAfter)
}

func TestBreaker_AbandonedProbeIsReclaimed(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBreaker(1, time.Minute)

	require.NoError(t, b.RecordFailure(ctx, "player_summary"))
	past := time.Now().Add(-2 * time.Minute)
	rec, _ := store.Get(ctx, "player_summary")
	rec.LastFailureAt = &past
	store.records["player_summary"] = rec

	d, err := b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	require.True(t, d.Probe)

	// The claimant dies without reporting an outcome. Once a full
	// cool-down passes, the next caller takes over the probe instead of
	// the circuit staying half-open forever.
	rec, _ = store.Get(ctx, "player_summary")
	stale := time.Now().Add(-2 * time.Minute)
	rec.LastProbeAt = &stale
	store.records["player_summary"] = rec

	d, err = b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Probe)

	d, err = b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "the reclaimed probe is exclusive again")
}

func TestBreaker_ForceResetCloses(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBreaker(1, time.Hour)

	require.NoError(t, b.RecordFailure(ctx, "player_summary"))
	require.NoError(t, b.ForceReset(ctx, "player_summary"))

	rec, err := store.Get(ctx, "player_summary")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)

	d, err := b.Allow(ctx, "player_summary")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

type failingStore struct{ MemoryStore }

func (s *failingStore) Get(context.Context, string) (Record, error) {
	return Record{}, assert.AnError
}

func TestBreaker_StoreErrorFailsClosed(t *testing.T) {
	b := New(&failingStore{}, 5, time.Minute)

	d, err := b.Allow(context.Background(), "player_summary")
	assert.Error(t, err)
	assert.False(t, d.Allowed, "unknown circuit state must deny")
}

func TestBreaker_IndependentPerProcessor(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBreaker(1, time.Hour)

	require.NoError(t, b.RecordFailure(ctx, "player_summary"))

	d, err := b.Allow(ctx, "team_rollup")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "one processor's trips never affect another")
}
