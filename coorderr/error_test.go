package coorderr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	e := New(CodeQueueFull, "mailbox full")
	assert.Equal(t, "[QUEUE_FULL] mailbox full", e.Error())

	e = e.WithCause(errors.New("boom"))
	assert.Equal(t, "[QUEUE_FULL] mailbox full: boom", e.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := New(CodeTimeout, "deadline exceeded").WithCause(cause)
	assert.True(t, errors.Is(e, cause))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(New(CodeCircuitOpen, "open")))
	assert.True(t, IsTransient(New(CodeQueueFull, "full")))
	assert.True(t, IsTransient(New(CodeTimeout, "slow")))
	assert.False(t, IsTransient(New(CodeInvalidSpec, "bad")))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestIsAndCodeOf(t *testing.T) {
	e := New(CodeUnknownAgent, "no such agent").WithTarget("ag_123")
	assert.True(t, Is(e, CodeUnknownAgent))
	assert.False(t, Is(e, CodeUnknownRecipient))
	assert.Equal(t, CodeUnknownAgent, CodeOf(e))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestInvariant(t *testing.T) {
	e := Invariant("resource pool lock order violated")
	assert.Equal(t, CodeInvariantViolation, e.Code)
	assert.Equal(t, SeverityCritical, e.Severity)
}

func TestWithBuilders(t *testing.T) {
	e := New(CodeCircuitOpen, "breaker tripped").
		WithSeverity(SeverityWarn).
		WithRetryable(true).
		WithTarget("agent-7")

	assert.Equal(t, SeverityWarn, e.Severity)
	assert.True(t, e.Retryable)
	assert.Equal(t, "agent-7", e.Target)
}
