package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/coorderr"
)

func newTestBreaker() (*Breaker, *clock.Fake) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{FailureThreshold: 3, OpenDuration: 10 * time.Second, HalfOpenProbeLimit: 2, IdleResetDuration: time.Hour}
	return New(cfg, fake, nil), fake
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("ag_1")
	}
	assert.Equal(t, StateOpen, b.State("ag_1"))

	err := b.Allow("ag_1")
	assert.True(t, coorderr.Is(err, coorderr.CodeCircuitOpen))
}

func TestBreaker_HalfOpenAfterOpenDuration(t *testing.T) {
	b, fake := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("ag_1")
	}
	require.Equal(t, StateOpen, b.State("ag_1"))

	fake.Advance(11 * time.Second)
	err := b.Allow("ag_1")
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State("ag_1"))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, fake := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("ag_1")
	}
	fake.Advance(11 * time.Second)
	require.NoError(t, b.Allow("ag_1"))
	b.RecordSuccess("ag_1")
	assert.Equal(t, StateClosed, b.State("ag_1"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, fake := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("ag_1")
	}
	fake.Advance(11 * time.Second)
	require.NoError(t, b.Allow("ag_1"))
	b.RecordFailure("ag_1")
	assert.Equal(t, StateOpen, b.State("ag_1"))
}

func TestBreaker_HalfOpenProbeLimit(t *testing.T) {
	b, fake := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("ag_1")
	}
	fake.Advance(11 * time.Second)

	require.NoError(t, b.Allow("ag_1")) // probe 1
	require.NoError(t, b.Allow("ag_1")) // probe 2
	err := b.Allow("ag_1")              // probe 3, exceeds limit of 2
	assert.True(t, coorderr.Is(err, coorderr.CodeTooManyCallsInHalfOpen))
}

func TestBreaker_IdleResetClearsCounters(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := Config{FailureThreshold: 3, OpenDuration: time.Minute, HalfOpenProbeLimit: 2, IdleResetDuration: time.Second}
	b := New(cfg, fake, nil)

	b.RecordFailure("ag_1")
	b.RecordFailure("ag_1")

	fake.Advance(2 * time.Second)
	require.NoError(t, b.Allow("ag_1"))
	b.RecordFailure("ag_1")
	assert.Equal(t, StateClosed, b.State("ag_1")) // only 1 failure counted post-reset
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("ag_1")
	}
	require.Equal(t, StateOpen, b.State("ag_1"))
	b.Reset("ag_1")
	assert.Equal(t, StateClosed, b.State("ag_1"))
}

func TestBreaker_Call(t *testing.T) {
	b, _ := newTestBreaker()
	err := b.Call("ag_1", func() error { return nil })
	assert.NoError(t, err)

	sentinel := errors.New("boom")
	err = b.Call("ag_1", func() error { return sentinel })
	assert.Equal(t, sentinel, err)
}

func TestCallTyped(t *testing.T) {
	b, _ := newTestBreaker()
	val, err := CallTyped(b, "ag_1", func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestBreaker_IndependentTargets(t *testing.T) {
	b, _ := newTestBreaker()
	for i := 0; i < 3; i++ {
		b.RecordFailure("ag_1")
	}
	assert.Equal(t, StateOpen, b.State("ag_1"))
	assert.Equal(t, StateClosed, b.State("ag_2"))
}
