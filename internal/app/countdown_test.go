package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asamblea/internal/domain"
)

func TestCountdown_TickNotifiesSubscribers(t *testing.T) {
	clock := newFakeClock()
	c := NewCountdown(clock, nil, testLogger(), WithTickInterval(0))
	defer c.Close()

	c.Track(1, 90)
	c.Track(2, 30)

	var mu sync.Mutex
	all := make([]domain.Countdown, 0)
	only2 := make([]domain.Countdown, 0)
	c.Subscribe(0, func(cd domain.Countdown) {
		mu.Lock()
		all = append(all, cd)
		mu.Unlock()
	})
	c.Subscribe(2, func(cd domain.Countdown) {
		mu.Lock()
		only2 = append(only2, cd)
		mu.Unlock()
	})

	clock.Advance(10 * time.Second)
	c.Tick(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].QuestionID)
	assert.Equal(t, 80, all[0].Remaining)
	assert.Equal(t, 20, all[1].Remaining)
	assert.True(t, all[1].LowTime())

	require.Len(t, only2, 1)
	assert.Equal(t, int64(2), only2[0].QuestionID)
}

func TestCountdown_Unsubscribe(t *testing.T) {
	c := NewCountdown(newFakeClock(), nil, testLogger(), WithTickInterval(0))
	defer c.Close()

	c.Track(1, 60)
	calls := 0
	id := c.Subscribe(1, func(domain.Countdown) { calls++ })
	c.Tick(context.Background())
	c.Unsubscribe(id)
	c.Tick(context.Background())

	assert.Equal(t, 1, calls)
}

func TestCountdown_AutoFinalizeExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	var finalized atomic.Int32
	c := NewCountdown(clock, func(ctx context.Context, questionID int64) error {
		assert.Equal(t, int64(4), questionID)
		finalized.Add(1)
		return nil
	}, testLogger(), WithTickInterval(0))
	defer c.Close()

	c.Track(4, 3)
	for i := 0; i <= 6; i++ {
		c.Tick(context.Background())
		clock.Advance(time.Second)
	}

	assert.Equal(t, int32(1), finalized.Load())
	assert.False(t, c.Has(4))
}

func TestCountdown_FinalizeFailureRetriesNextTick(t *testing.T) {
	clock := newFakeClock()
	attempts := 0
	c := NewCountdown(clock, func(ctx context.Context, questionID int64) error {
		attempts++
		if attempts == 1 {
			return errors.New("network down")
		}
		return nil
	}, testLogger(), WithTickInterval(0))
	defer c.Close()

	c.Track(1, 1)
	clock.Advance(2 * time.Second)

	c.Tick(context.Background())
	assert.Equal(t, 1, attempts)
	assert.True(t, c.Has(1), "record survives a failed finalize")

	c.Tick(context.Background())
	assert.Equal(t, 2, attempts)
	assert.False(t, c.Has(1))

	c.Tick(context.Background())
	assert.Equal(t, 2, attempts)
}

func TestCountdown_NewRecordGetsFreshGuard(t *testing.T) {
	clock := newFakeClock()
	var finalized atomic.Int32
	c := NewCountdown(clock, func(context.Context, int64) error {
		finalized.Add(1)
		return nil
	}, testLogger(), WithTickInterval(0))
	defer c.Close()

	c.Track(1, 1)
	clock.Advance(time.Second)
	c.Tick(context.Background())
	require.Equal(t, int32(1), finalized.Load())

	c.Track(1, 1)
	clock.Advance(time.Second)
	c.Tick(context.Background())
	assert.Equal(t, int32(2), finalized.Load())
}

func TestCountdown_DisplayOnlyNeverFinalizes(t *testing.T) {
	clock := newFakeClock()
	c := NewCountdown(clock, nil, testLogger(), WithTickInterval(0))
	defer c.Close()

	c.Track(1, 1)
	clock.Advance(5 * time.Second)
	c.Tick(context.Background())

	cd, ok := c.Remaining(1)
	require.True(t, ok)
	assert.True(t, cd.Expired())
	assert.Equal(t, "0:00", cd.String())
}

func TestCountdown_TickerFollowsRecords(t *testing.T) {
	c := NewCountdown(newFakeClock(), nil, testLogger(), WithTickInterval(10*time.Millisecond))
	defer c.Close()

	assert.False(t, c.Running())

	c.Track(1, 60)
	c.Track(2, 60)
	assert.True(t, c.Running())

	c.Clear(1)
	assert.True(t, c.Running())

	c.Clear(2)
	assert.False(t, c.Running())
}

func TestCountdown_TrackReplacesRecord(t *testing.T) {
	clock := newFakeClock()
	c := NewCountdown(clock, nil, testLogger(), WithTickInterval(0))
	defer c.Close()

	c.Track(1, 60)
	clock.Advance(30 * time.Second)
	rec := c.Track(1, 120)

	assert.Equal(t, clock.Now(), rec.StartedAt)
	cd, ok := c.Remaining(1)
	require.True(t, ok)
	assert.Equal(t, 120, cd.Remaining)
	assert.Equal(t, []int64{1}, c.Tracked())
}

func TestCountdown_CloseDropsEverything(t *testing.T) {
	c := NewCountdown(newFakeClock(), nil, testLogger(), WithTickInterval(10*time.Millisecond))

	c.Track(1, 60)
	c.Close()
	c.Close()

	assert.False(t, c.Running())
	assert.False(t, c.Has(1))

	c.Track(2, 60)
	assert.False(t, c.Has(2), "closed scheduler does not track")
}
