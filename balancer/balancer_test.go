package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

func idleCandidates(ids ...string) []Candidate {
	out := make([]Candidate, len(ids))
	for i, id := range ids {
		out[i] = Candidate{AgentID: id, Status: model.AgentIdle}
	}
	return out
}

func TestSelect_NoEligibleAgent(t *testing.T) {
	b := New(RoundRobin)
	_, err := b.Select([]Candidate{{AgentID: "ag_1", Status: model.AgentOffline}}, nil)
	assert.True(t, coorderr.Is(err, coorderr.CodeNoEligibleAgent))
}

func TestSelect_SkipsCircuitOpenAndIneligibleStatus(t *testing.T) {
	b := New(RoundRobin)
	candidates := []Candidate{
		{AgentID: "ag_1", Status: model.AgentIdle, CircuitOpen: true},
		{AgentID: "ag_2", Status: model.AgentError},
		{AgentID: "ag_3", Status: model.AgentBusy},
	}
	id, err := b.Select(candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, "ag_3", id)
}

func TestRoundRobin_RotatesStableOrder(t *testing.T) {
	b := New(RoundRobin)
	candidates := idleCandidates("ag_2", "ag_1", "ag_3")

	var picks []string
	for i := 0; i < 3; i++ {
		id, err := b.Select(candidates, nil)
		require.NoError(t, err)
		picks = append(picks, id)
	}
	assert.Equal(t, []string{"ag_1", "ag_2", "ag_3"}, picks)
}

func TestLeastConnections_PicksSmallestDepth(t *testing.T) {
	b := New(LeastConnections)
	candidates := []Candidate{
		{AgentID: "ag_1", Status: model.AgentIdle, MailboxDepth: 5},
		{AgentID: "ag_2", Status: model.AgentIdle, MailboxDepth: 1},
		{AgentID: "ag_3", Status: model.AgentIdle, MailboxDepth: 3},
	}
	id, err := b.Select(candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, "ag_2", id)
}

func TestWeightedRoundRobin_FavorsHigherWeight(t *testing.T) {
	b := New(WeightedRoundRobin)
	candidates := []Candidate{
		{AgentID: "ag_heavy", Status: model.AgentIdle, Weight: 3},
		{AgentID: "ag_light", Status: model.AgentIdle, Weight: 1},
	}

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		id, err := b.Select(candidates, nil)
		require.NoError(t, err)
		counts[id]++
	}
	assert.Equal(t, 6, counts["ag_heavy"])
	assert.Equal(t, 2, counts["ag_light"])
}

func TestLeastResponseTime_PicksLowestAverage(t *testing.T) {
	b := New(LeastResponseTime)
	b.RecordResponseTime("ag_1", 100*time.Millisecond)
	b.RecordResponseTime("ag_2", 10*time.Millisecond)

	candidates := idleCandidates("ag_1", "ag_2")
	id, err := b.Select(candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, "ag_2", id)
}

func TestLeastResponseTime_CapsAt32Samples(t *testing.T) {
	b := New(LeastResponseTime)
	for i := 0; i < 40; i++ {
		b.RecordResponseTime("ag_1", time.Duration(i)*time.Millisecond)
	}
	b.mu.Lock()
	n := len(b.responseTimes["ag_1"])
	b.mu.Unlock()
	assert.Equal(t, responseSampleLimit, n)
}

func TestCapabilityAffinity_ScoresByOverlap(t *testing.T) {
	b := New(CapabilityAffinity)
	candidates := []Candidate{
		{AgentID: "ag_full", Status: model.AgentIdle, Capabilities: map[string]struct{}{"go": {}, "review": {}}},
		{AgentID: "ag_partial", Status: model.AgentIdle, Capabilities: map[string]struct{}{"go": {}}},
	}
	id, err := b.Select(candidates, []string{"go", "review"})
	require.NoError(t, err)
	assert.Equal(t, "ag_full", id)
}

func TestCapabilityAffinity_TieBreaksByLeastConnections(t *testing.T) {
	b := New(CapabilityAffinity)
	candidates := []Candidate{
		{AgentID: "ag_busy", Status: model.AgentIdle, MailboxDepth: 5, Capabilities: map[string]struct{}{"go": {}}},
		{AgentID: "ag_idle", Status: model.AgentIdle, MailboxDepth: 0, Capabilities: map[string]struct{}{"go": {}}},
	}
	id, err := b.Select(candidates, []string{"go"})
	require.NoError(t, err)
	assert.Equal(t, "ag_idle", id)
}

func TestCapabilityAffinity_TieBreaksByResponseTimeWhenMailboxDepthTies(t *testing.T) {
	b := New(CapabilityAffinity)
	b.RecordResponseTime("ag_slow", 50*time.Millisecond)
	b.RecordResponseTime("ag_fast", 5*time.Millisecond)

	candidates := []Candidate{
		{AgentID: "ag_slow", Status: model.AgentIdle, MailboxDepth: 2, Capabilities: map[string]struct{}{"go": {}}},
		{AgentID: "ag_fast", Status: model.AgentIdle, MailboxDepth: 2, Capabilities: map[string]struct{}{"go": {}}},
	}
	id, err := b.Select(candidates, []string{"go"})
	require.NoError(t, err)
	assert.Equal(t, "ag_fast", id)
}

func TestThrottle_LimitsBursts(t *testing.T) {
	th := NewThrottle(1, 1)
	assert.True(t, th.Allow("ag_1"))
	assert.False(t, th.Allow("ag_1"))
	assert.True(t, th.Allow("ag_2"))
}
