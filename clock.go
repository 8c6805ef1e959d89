package ice

import "time"

// Clock is the injected source of "now" used by the scheduler and STUN
// transaction timers, grounded on internal/server/context.go's time field:
// request handlers take their notion of "now" from the context rather than
// calling time.Now() directly, so tests can supply deterministic timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
