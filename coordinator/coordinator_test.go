package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhema-dev/coordination/balancer"
	"github.com/rhema-dev/coordination/breaker"
	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/model"
	"github.com/rhema-dev/coordination/pattern"
	"github.com/rhema-dev/coordination/registry"
	"github.com/rhema-dev/coordination/resourcepool"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	co := New(clk, Config{
		MailboxCapacity:    32,
		BalancerStrategy:   balancer.LeastConnections,
		Breaker:            breaker.DefaultConfig(),
		ResourceCapacities: map[resourcepool.Namespace]int64{resourcepool.NamespaceMemory: 1024},
	})
	return co, clk
}

func registerAgent(t *testing.T, co *Coordinator, id string, caps []string) {
	t.Helper()
	_, err := co.RegisterAgent(context.Background(), registry.Spec{
		ID: id, Name: id, Type: "worker", Capabilities: caps,
	})
	require.NoError(t, err)
}

func TestCoordinator_RegisterAndQueryAgent(t *testing.T) {
	co, _ := newTestCoordinator(t)
	registerAgent(t, co, "agent-1", []string{"review"})

	agent, err := co.Agent("agent-1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentIdle, agent.Status)

	found := co.QueryAgents(registry.Filter{Capabilities: []string{"review"}})
	require.Len(t, found, 1)
	assert.Equal(t, "agent-1", found[0].ID)
}

func TestCoordinator_StartSweepsMissedHeartbeats(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	co := New(clk, Config{
		MailboxCapacity:    32,
		BalancerStrategy:   balancer.LeastConnections,
		Breaker:            breaker.DefaultConfig(),
		ResourceCapacities: map[resourcepool.Namespace]int64{resourcepool.NamespaceMemory: 1024},
		HeartbeatInterval:  5 * time.Millisecond,
	})
	registerAgent(t, co, "agent-1", []string{"review"})

	co.Start(time.Hour) // alert evaluation interval irrelevant to this test
	defer co.Shutdown(context.Background(), 200*time.Millisecond)

	clk.Advance(16 * time.Millisecond) // > 3x the 5ms heartbeat interval

	require.Eventually(t, func() bool {
		agent, err := co.Agent("agent-1")
		return err == nil && agent.Status == model.AgentOffline
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCoordinator_UnregisterAgentRemovesMailbox(t *testing.T) {
	co, _ := newTestCoordinator(t)
	registerAgent(t, co, "agent-1", []string{"generic"})

	require.NoError(t, co.UnregisterAgent("agent-1"))
	_, err := co.Agent("agent-1")
	assert.Error(t, err)
}

func TestCoordinator_SendAndReceiveMessage(t *testing.T) {
	co, clk := newTestCoordinator(t)
	registerAgent(t, co, "agent-1", []string{"generic"})

	msg := &model.Message{
		ID: "msg-1", Sender: "agent-2", Recipient: model.AgentRecipient("agent-1"),
		Type: model.TypeNotification, Priority: model.PriorityNormal, CreatedAt: clk.Now(),
	}
	require.NoError(t, co.SendMessage(context.Background(), msg))

	received, err := co.ReceiveMessage(context.Background(), "agent-1", clk.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", received.ID)
}

func TestCoordinator_SessionLifecycle(t *testing.T) {
	co, _ := newTestCoordinator(t)
	registerAgent(t, co, "agent-1", []string{"generic"})
	registerAgent(t, co, "agent-2", []string{"generic"})

	id, err := co.CreateSession("sess-1", "code review", model.SessionRules{}, "agent-1")
	require.NoError(t, err)

	require.NoError(t, co.JoinSession(id, "agent-2", nil))

	sess, err := co.Session(id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, sess.Participants)

	require.NoError(t, co.LeaveSession(context.Background(), id, "agent-2"))
	require.NoError(t, co.CloseSession(id, "done"))
}

func TestCoordinator_ExecutePatternRecordsOutcome(t *testing.T) {
	co, _ := newTestCoordinator(t)
	registerAgent(t, co, "agent-1", []string{"review"})

	exec, err := co.ExecutePattern(context.Background(), pattern.Definition{
		Kind: model.PatternCodeReview,
		Phases: []pattern.Phase{
			{
				Name:         "review",
				Capabilities: []string{"review"},
				Run: func(ctx context.Context, exec *model.PatternExecution, dispatcher pattern.AgentDispatcher) (any, error) {
					agentID, err := dispatcher.SelectAgent(ctx, []string{"review"})
					if err != nil {
						return nil, err
					}
					return dispatcher.Invoke(ctx, agentID, func(context.Context) (any, error) {
						return "ok", nil
					})
				},
			},
		},
	}, map[string]any{}, "")
	require.NoError(t, err)
	assert.Equal(t, model.ExecSucceeded, exec.Status)

	observed, err := co.ObservePattern(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecSucceeded, observed.Status)
}

func TestCoordinator_ShutdownCancelsRunningExecutions(t *testing.T) {
	co, _ := newTestCoordinator(t)
	registerAgent(t, co, "agent-1", []string{"review"})

	block := make(chan struct{})
	started := make(chan struct{})
	def := pattern.Definition{
		Kind: model.PatternCodeReview,
		Phases: []pattern.Phase{
			{
				Name:         "stall",
				Capabilities: []string{"review"},
				Run: func(ctx context.Context, exec *model.PatternExecution, dispatcher pattern.AgentDispatcher) (any, error) {
					close(started)
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-block:
						return "ok", nil
					}
				},
			},
		},
	}

	done := make(chan error, 1)
	go func() {
		_, err := co.ExecutePattern(context.Background(), def, map[string]any{}, "")
		done <- err
	}()
	<-started

	err := co.Shutdown(context.Background(), 200*time.Millisecond)
	assert.Error(t, err)
	<-done
	close(block)
}

func TestCoordinator_HealthAndAlerts(t *testing.T) {
	co, _ := newTestCoordinator(t)
	registerAgent(t, co, "agent-1", []string{"generic"})

	health := co.Health()
	assert.NotEmpty(t, health)

	alerts := co.Alerts()
	assert.NotNil(t, alerts)
}
