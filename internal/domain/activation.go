package domain

import (
	"fmt"
	"math"
	"time"
)

// LowTimeThreshold is the remaining time at or below which the countdown is
// rendered as urgent
const LowTimeThreshold = 30

// ActivationRecord anchors a question's countdown to the local clock at the
// moment the server's duration was received
type ActivationRecord struct {
	QuestionID      int64     `json:"questionId"`
	DurationSeconds int       `json:"durationSeconds"`
	StartedAt       time.Time `json:"startedAt"`
}

// NewActivationRecord creates a record anchored at now
func NewActivationRecord(questionID int64, durationSeconds int, now time.Time) ActivationRecord {
	return ActivationRecord{
		QuestionID:      questionID,
		DurationSeconds: durationSeconds,
		StartedAt:       now,
	}
}

// RemainingAt computes the whole seconds left at the given instant. The value
// is derived from the anchor every time, never decremented.
func (r ActivationRecord) RemainingAt(now time.Time) int {
	elapsed := now.Sub(r.StartedAt).Seconds()
	remaining := math.Floor(float64(r.DurationSeconds) - elapsed)
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// CountdownAt returns the display values at the given instant
func (r ActivationRecord) CountdownAt(now time.Time) Countdown {
	return Countdown{
		QuestionID: r.QuestionID,
		Remaining:  r.RemainingAt(now),
	}
}

// Countdown is the display form of a question's remaining time
type Countdown struct {
	QuestionID int64 `json:"questionId"`
	Remaining  int   `json:"remainingSeconds"`
}

// Minutes returns the whole minutes part
func (c Countdown) Minutes() int {
	return c.Remaining / 60
}

// Seconds returns the seconds part
func (c Countdown) Seconds() int {
	return c.Remaining % 60
}

// LowTime reports whether the countdown should be rendered as urgent
func (c Countdown) LowTime() bool {
	return c.Remaining <= LowTimeThreshold
}

// Expired reports whether no time is left
func (c Countdown) Expired() bool {
	return c.Remaining == 0
}

// String renders the countdown as m:ss
func (c Countdown) String() string {
	return fmt.Sprintf("%d:%02d", c.Minutes(), c.Seconds())
}
