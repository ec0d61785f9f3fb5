package tracing

import "time"

// A Tracer collects tasks.
type Tracer interface {
	StartTask(task Task)
	EndTask(task Task)
}

// A TimeTeller tells the current time.
type TimeTeller interface {
	CurrentTime() time.Time
}

// WallClock tells the time of the system clock.
type WallClock struct{}

// CurrentTime returns time.Now().
func (WallClock) CurrentTime() time.Time {
	return time.Now()
}
