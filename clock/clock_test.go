package clock

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewID_PrefixPerKind(t *testing.T) {
	cases := map[Kind]string{
		KindAgent:   "ag_",
		KindSession: "sess_",
		KindMessage: "msg_",
		KindPattern: "pat_",
	}
	for kind, prefix := range cases {
		id := NewID(kind)
		assert.True(t, strings.HasPrefix(id, prefix), "id %q should have prefix %q", id, prefix)
		assert.Greater(t, len(id), len(prefix))
	}
}

func TestNewID_Unique(t *testing.T) {
	a := NewID(KindAgent)
	b := NewID(KindAgent)
	assert.NotEqual(t, a, b)
}

func TestRealClock_NowAdvances(t *testing.T) {
	c := New()
	t1 := c.Now()
	time.Sleep(time.Millisecond)
	t2 := c.Now()
	assert.True(t, t2.After(t1) || t2.Equal(t1))
}

func TestFake_AdvanceAndSet(t *testing.T) {
	seed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(seed)
	assert.Equal(t, seed, f.Now())

	f.Advance(5 * time.Second)
	assert.Equal(t, seed.Add(5*time.Second), f.Now())

	other := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	f.Set(other)
	assert.Equal(t, other, f.Now())
}

func TestFake_MonotonicIncreases(t *testing.T) {
	f := NewFake(time.Now())
	a := f.Monotonic()
	b := f.Monotonic()
	assert.Greater(t, b, a)
}
