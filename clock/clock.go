// Package clock provides the time and identifier primitives shared across
// the coordination core. Every component that needs "now" or a new ID goes
// through a Clock rather than calling time.Now/uuid.New directly, so tests
// can advance time deterministically instead of sleeping.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock and monotonic time.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Monotonic returns a strictly increasing nanosecond counter, suitable
	// for ordering events within a single process run.
	Monotonic() int64
}

// Kind tags the entity an identifier was minted for, so IDs stay legible to
// an operator reading logs or metrics labels.
type Kind string

const (
	KindAgent   Kind = "ag"
	KindSession Kind = "sess"
	KindMessage Kind = "msg"
	KindPattern Kind = "pat"
)

// realClock backs production use.
type realClock struct {
	start time.Time
	last  *atomic.Int64
}

// New returns the production Clock, backed by time.Now.
func New() Clock {
	return realClock{start: time.Now(), last: new(atomic.Int64)}
}

func (realClock) Now() time.Time {
	return time.Now()
}

// Monotonic returns nanoseconds elapsed since New on the monotonic clock,
// bumped by one whenever that would not exceed the previous value.
func (c realClock) Monotonic() int64 {
	for {
		prev := c.last.Load()
		next := int64(time.Since(c.start))
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// NewID mints a kind-prefixed identifier, e.g. "ag_3f9c2e1a-...".
func NewID(kind Kind) string {
	return string(kind) + "_" + uuid.New().String()
}
