package app

import "time"

// Clock tells the current time. Readings from the system clock carry a
// monotonic component, so elapsed time survives wall clock changes.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock is the real clock
var SystemClock Clock = systemClock{}
