package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

type stubEngine struct {
	outcome model.DecisionOutcome
	err     error
	leader  string
}

func (s *stubEngine) Propose(_ context.Context, _ string, _ []string, _ []byte) (model.DecisionOutcome, error) {
	return s.outcome, s.err
}

func (s *stubEngine) CurrentLeader(string) string { return s.leader }

type stubRouter struct {
	recipients []string
	msg        model.Message
	calls      int
}

func (s *stubRouter) Broadcast(_ context.Context, recipients []string, msg model.Message) error {
	s.recipients = recipients
	s.msg = msg
	s.calls++
	return nil
}

func newManager(opts ...Option) *Manager {
	return New(clock.NewFake(time.Time{}), nil, opts...)
}

func TestCreate_DefaultsRules(t *testing.T) {
	m := newManager()
	_, err := m.Create("sess_1", "topic", model.SessionRules{}, "ag_1")
	require.NoError(t, err)

	s, err := m.Get("sess_1")
	require.NoError(t, err)
	assert.Equal(t, model.DecisionMajorityVote, s.Rules.DecisionPolicy)
	assert.Equal(t, model.ConflictReject, s.Rules.Conflict.Kind)
	assert.Equal(t, []string{"ag_1"}, s.Participants)
	assert.Equal(t, model.SessionOpen, s.State)
}

func TestCreate_DuplicateID(t *testing.T) {
	m := newManager()
	_, err := m.Create("sess_1", "topic", model.SessionRules{}, "ag_1")
	require.NoError(t, err)
	_, err = m.Create("sess_1", "topic", model.SessionRules{}, "ag_2")
	assert.True(t, coorderr.Is(err, coorderr.CodeDuplicateID))
}

func TestJoin_OpenPolicyAllowsAnyone(t *testing.T) {
	m := newManager()
	_, _ = m.Create("sess_1", "topic", model.SessionRules{}, "ag_1")

	err := m.Join("sess_1", "ag_2", nil)
	require.NoError(t, err)

	s, _ := m.Get("sess_1")
	assert.Contains(t, s.Participants, "ag_2")
}

func TestJoin_InviteOnlyDenies(t *testing.T) {
	m := newManager()
	_, _ = m.Create("sess_1", "topic", model.SessionRules{AccessPolicy: model.AccessInviteOnly}, "ag_1")

	err := m.Join("sess_1", "ag_2", nil)
	assert.True(t, coorderr.Is(err, coorderr.CodeAccessDenied))
}

func TestJoin_CapabilityGated(t *testing.T) {
	m := newManager()
	rules := model.SessionRules{
		AccessPolicy:   model.AccessCapabilityGated,
		CapabilityGate: map[string]struct{}{"review": {}},
	}
	_, _ = m.Create("sess_1", "topic", rules, "ag_1")

	err := m.Join("sess_1", "ag_2", map[string]struct{}{"go": {}})
	assert.True(t, coorderr.Is(err, coorderr.CodeAccessDenied))

	err = m.Join("sess_1", "ag_3", map[string]struct{}{"review": {}})
	assert.NoError(t, err)
}

func TestJoin_ClosedSessionFails(t *testing.T) {
	m := newManager()
	_, _ = m.Create("sess_1", "topic", model.SessionRules{}, "ag_1")
	require.NoError(t, m.Close("sess_1", "done"))

	err := m.Join("sess_1", "ag_2", nil)
	assert.True(t, coorderr.Is(err, coorderr.CodeSessionClosed))
}

func TestLeave_RemovesParticipant(t *testing.T) {
	m := newManager()
	_, _ = m.Create("sess_1", "topic", model.SessionRules{}, "ag_1")
	_ = m.Join("sess_1", "ag_2", nil)

	require.NoError(t, m.Leave(context.Background(), "sess_1", "ag_2"))
	s, _ := m.Get("sess_1")
	assert.NotContains(t, s.Participants, "ag_2")
}

func TestSend_FiltersMessagesAndSkipsSender(t *testing.T) {
	router := &stubRouter{}
	m := newManager(WithRouter(router))
	_, _ = m.Create("sess_1", "topic", model.SessionRules{}, "ag_1")
	_ = m.Join("sess_1", "ag_2", nil)

	msg := model.Message{Sender: "ag_1", Type: model.TypeCoordination}
	require.NoError(t, m.Send(context.Background(), "sess_1", msg))
	assert.Equal(t, 1, router.calls)
	assert.Equal(t, []string{"ag_2"}, router.recipients)
}

func TestSend_FilterBlocksDelivery(t *testing.T) {
	router := &stubRouter{}
	m := newManager(WithRouter(router))
	rules := model.SessionRules{
		MessageFilter: func(msg model.Message) bool { return msg.Priority == model.PriorityCritical },
	}
	_, _ = m.Create("sess_1", "topic", rules, "ag_1")
	_ = m.Join("sess_1", "ag_2", nil)

	msg := model.Message{Sender: "ag_1", Priority: model.PriorityLow}
	require.NoError(t, m.Send(context.Background(), "sess_1", msg))
	assert.Equal(t, 0, router.calls)
}

func TestDecide_CommitsToDecisionLog(t *testing.T) {
	engine := &stubEngine{outcome: model.DecisionOutcome{Kind: model.OutcomeCommitted, Index: 1, Term: 1}}
	m := newManager(WithConsensusEngine(model.DecisionMajorityVote, engine))
	_, _ = m.Create("sess_1", "topic", model.SessionRules{}, "ag_1")

	outcome, err := m.Decide(context.Background(), "sess_1", []byte("proposal"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCommitted, outcome.Kind)

	s, _ := m.Get("sess_1")
	require.Len(t, s.DecisionLog, 1)
	assert.Equal(t, model.SessionOpen, s.State)
}

func TestDecide_NoEngineRegisteredFails(t *testing.T) {
	m := newManager()
	_, _ = m.Create("sess_1", "topic", model.SessionRules{}, "ag_1")

	_, err := m.Decide(context.Background(), "sess_1", []byte("x"))
	assert.True(t, coorderr.Is(err, coorderr.CodeInvalidConfiguration))
}

func TestClose_IsIdempotentAndBlocksFurtherOps(t *testing.T) {
	m := newManager()
	_, _ = m.Create("sess_1", "topic", model.SessionRules{}, "ag_1")

	require.NoError(t, m.Close("sess_1", "done"))
	require.NoError(t, m.Close("sess_1", "done again"))

	_, err := m.Decide(context.Background(), "sess_1", []byte("x"))
	assert.True(t, coorderr.Is(err, coorderr.CodeSessionClosed))
}

func TestList_ReturnsEveryTrackedSession(t *testing.T) {
	m := newManager()
	_, _ = m.Create("sess_1", "topic a", model.SessionRules{}, "ag_1")
	_, _ = m.Create("sess_2", "topic b", model.SessionRules{}, "ag_2")
	require.NoError(t, m.Close("sess_2", "done"))

	sessions := m.List()
	require.Len(t, sessions, 2)

	byID := make(map[string]model.Session, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
	}
	assert.Equal(t, model.SessionOpen, byID["sess_1"].State)
	assert.Equal(t, model.SessionClosed, byID["sess_2"].State)
}
