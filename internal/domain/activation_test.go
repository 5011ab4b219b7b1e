package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActivationRecord_RemainingAt(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := NewActivationRecord(1, 180, start)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"at activation", 0, 180},
		{"sub-second elapsed floors", 400 * time.Millisecond, 179},
		{"one second", time.Second, 179},
		{"half way", 90 * time.Second, 90},
		{"last second", 179*time.Second + 999*time.Millisecond, 0},
		{"exactly expired", 180 * time.Second, 0},
		{"long after", time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rec.RemainingAt(start.Add(tt.elapsed)))
		})
	}
}

func TestActivationRecord_Monotonic(t *testing.T) {
	start := time.Now()
	rec := NewActivationRecord(1, 45, start)

	prev := rec.RemainingAt(start)
	for ms := 0; ms <= 60_000; ms += 137 {
		cur := rec.RemainingAt(start.Add(time.Duration(ms) * time.Millisecond))
		assert.LessOrEqual(t, cur, prev)
		assert.GreaterOrEqual(t, cur, 0)
		prev = cur
	}
}

func TestActivationRecord_ClockJumpMatchesSteadyProgress(t *testing.T) {
	start := time.Now()
	rec := NewActivationRecord(1, 120, start)

	// Ticking steadily for 50 seconds and jumping straight there must agree.
	steady := 0
	for i := 1; i <= 50; i++ {
		steady = rec.RemainingAt(start.Add(time.Duration(i) * time.Second))
	}
	jumped := rec.RemainingAt(start.Add(50 * time.Second))

	assert.Equal(t, steady, jumped)
	assert.Equal(t, 70, jumped)
}

func TestCountdown_Display(t *testing.T) {
	c := Countdown{QuestionID: 1, Remaining: 125}
	assert.Equal(t, 2, c.Minutes())
	assert.Equal(t, 5, c.Seconds())
	assert.Equal(t, "2:05", c.String())
	assert.False(t, c.LowTime())

	c.Remaining = 30
	assert.True(t, c.LowTime())
	assert.Equal(t, "0:30", c.String())

	c.Remaining = 0
	assert.True(t, c.Expired())
}
