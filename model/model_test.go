package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(AgentIdle, AgentBusy))
	assert.True(t, CanTransition(AgentBusy, AgentIdle))
	assert.True(t, CanTransition(AgentIdle, AgentOffline))
	assert.True(t, CanTransition(AgentOffline, AgentIdle))
	assert.False(t, CanTransition(AgentOffline, AgentBusy))
	assert.False(t, CanTransition(AgentError, AgentBusy))
	assert.True(t, CanTransition(AgentIdle, AgentIdle))
}

func TestAgent_HasCapabilities(t *testing.T) {
	a := &Agent{Capabilities: map[string]struct{}{"code-review": {}, "go": {}}}
	assert.True(t, a.HasCapabilities(map[string]struct{}{"go": {}}))
	assert.False(t, a.HasCapabilities(map[string]struct{}{"rust": {}}))
}

func TestAgent_Eligible(t *testing.T) {
	a := &Agent{Status: AgentBusy}
	assert.True(t, a.Eligible())
	a.Status = AgentOffline
	assert.False(t, a.Eligible())
}

func TestMessage_Expired(t *testing.T) {
	now := time.Now()
	m := &Message{CreatedAt: now.Add(-time.Minute), TTL: 30 * time.Second}
	assert.True(t, m.Expired(now))

	m.TTL = 0
	assert.False(t, m.Expired(now))
}

func TestSession_HasParticipantAndMutable(t *testing.T) {
	s := &Session{Participants: []string{"ag_1", "ag_2"}, State: SessionOpen}
	assert.True(t, s.HasParticipant("ag_1"))
	assert.False(t, s.HasParticipant("ag_3"))
	assert.True(t, s.Mutable())

	s.State = SessionClosed
	assert.False(t, s.Mutable())
}

func TestExecutionStatus_Terminal(t *testing.T) {
	assert.True(t, ExecSucceeded.Terminal())
	assert.True(t, ExecFailed.Terminal())
	assert.False(t, ExecRunning.Terminal())
}
