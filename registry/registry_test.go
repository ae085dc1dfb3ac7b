package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

func newTestRegistry() (*Registry, *clock.Fake) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(fake, nil, WithHeartbeatInterval(10*time.Second)), fake
}

func TestRegister_Basic(t *testing.T) {
	r, _ := newTestRegistry()
	id, err := r.Register(context.Background(), Spec{
		ID: "ag_1", Type: "code-review", Capabilities: []string{"go", "review"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ag_1", id)

	agent, err := r.Get("ag_1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentIdle, agent.Status)
	assert.Equal(t, 1.0, agent.Health)
}

func TestRegister_EmptyCapabilities(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Register(context.Background(), Spec{ID: "ag_1"})
	assert.True(t, coorderr.Is(err, coorderr.CodeInvalidSpec))
}

func TestRegister_DuplicateID(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, Spec{ID: "ag_1", Capabilities: []string{"go"}})
	require.NoError(t, err)

	_, err = r.Register(ctx, Spec{ID: "ag_1", Capabilities: []string{"go"}})
	assert.True(t, coorderr.Is(err, coorderr.CodeDuplicateID))
}

type rejectAuth struct{}

func (rejectAuth) Authenticate(context.Context, string, []byte) error {
	return errors.New("bad credential")
}

func TestRegister_AuthenticatorRejects(t *testing.T) {
	fake := clock.NewFake(time.Now())
	r := New(fake, nil, WithAuthenticator(rejectAuth{}))
	_, err := r.Register(context.Background(), Spec{ID: "ag_1", Capabilities: []string{"go"}})
	assert.True(t, coorderr.Is(err, coorderr.CodeAccessDenied))
}

func TestUnregister_Idempotent(t *testing.T) {
	r, _ := newTestRegistry()
	assert.NoError(t, r.Unregister("nonexistent"))

	ctx := context.Background()
	_, err := r.Register(ctx, Spec{ID: "ag_1", Capabilities: []string{"go"}})
	require.NoError(t, err)
	require.NoError(t, r.Unregister("ag_1"))
	require.NoError(t, r.Unregister("ag_1"))

	_, err = r.Get("ag_1")
	assert.True(t, coorderr.Is(err, coorderr.CodeUnknownAgent))
}

func TestUpdateStatus_LegalAndIllegalTransitions(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, Spec{ID: "ag_1", Capabilities: []string{"go"}})
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus("ag_1", model.AgentBusy))
	agent, _ := r.Get("ag_1")
	assert.Equal(t, model.AgentBusy, agent.Status)

	require.NoError(t, r.UpdateStatus("ag_1", model.AgentOffline))
	err = r.UpdateStatus("ag_1", model.AgentBusy)
	assert.True(t, coorderr.Is(err, coorderr.CodeIllegalTransition))
}

func TestHeartbeat_ResetsOfflineToIdle(t *testing.T) {
	r, fake := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, Spec{ID: "ag_1", Capabilities: []string{"go"}})
	require.NoError(t, err)

	require.NoError(t, r.UpdateStatus("ag_1", model.AgentOffline))
	fake.Advance(time.Second)
	require.NoError(t, r.Heartbeat("ag_1", 0.9))

	agent, _ := r.Get("ag_1")
	assert.Equal(t, model.AgentIdle, agent.Status)
	assert.Equal(t, 0.9, agent.Health)
}

func TestSweepHeartbeats_DemotesStaleAgents(t *testing.T) {
	r, fake := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, Spec{ID: "ag_1", Capabilities: []string{"go"}})
	require.NoError(t, err)

	fake.Advance(31 * time.Second) // > 3x the 10s heartbeat interval
	r.SweepHeartbeats()

	agent, _ := r.Get("ag_1")
	assert.Equal(t, model.AgentOffline, agent.Status)
}

func TestHeartbeatInterval_ReportsConfiguredValue(t *testing.T) {
	r, _ := newTestRegistry()
	assert.Equal(t, 10*time.Second, r.HeartbeatInterval())
}

func TestQuery_FiltersByTypeStatusScopeCapability(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, Spec{ID: "ag_1", Type: "review", Scope: "teamA", Capabilities: []string{"go", "review"}})
	require.NoError(t, err)
	_, err = r.Register(ctx, Spec{ID: "ag_2", Type: "test", Scope: "teamB", Capabilities: []string{"go"}})
	require.NoError(t, err)

	result := r.Query(Filter{Type: "review"})
	require.Len(t, result, 1)
	assert.Equal(t, "ag_1", result[0].ID)

	result = r.Query(Filter{Capabilities: []string{"go"}})
	assert.Len(t, result, 2)

	result = r.Query(Filter{Scope: "teamB"})
	require.Len(t, result, 1)
	assert.Equal(t, "ag_2", result[0].ID)
}

func TestCandidatesWithCapabilities(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, Spec{ID: "ag_1", Capabilities: []string{"go", "review"}})
	require.NoError(t, err)
	_, err = r.Register(ctx, Spec{ID: "ag_2", Capabilities: []string{"go"}})
	require.NoError(t, err)

	candidates := r.CandidatesWithCapabilities([]string{"go", "review"})
	assert.ElementsMatch(t, []string{"ag_1"}, candidates)

	candidates = r.CandidatesWithCapabilities([]string{"go"})
	assert.ElementsMatch(t, []string{"ag_1", "ag_2"}, candidates)

	candidates = r.CandidatesWithCapabilities([]string{"rust"})
	assert.Empty(t, candidates)
}
