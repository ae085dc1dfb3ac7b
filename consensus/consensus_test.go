package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/model"
)

// router is an in-memory Transport that delivers each Send to the named
// engine's HandleMessage on a new goroutine, simulating a fully connected
// cluster of local participants without any real network.
type router struct {
	mu      sync.Mutex
	engines map[string]Engine
}

func newRouter() *router {
	return &router{engines: make(map[string]Engine)}
}

func (r *router) register(id string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[id] = e
}

func (r *router) Send(ctx context.Context, to string, msg Message) error {
	r.mu.Lock()
	e, ok := r.engines[to]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	go func() { _ = e.HandleMessage(ctx, msg) }()
	return nil
}

func TestMajorityVote_CommitsOnQuorum(t *testing.T) {
	rt := newRouter()
	engine := NewMajorityVote(rt, clock.NewFake(time.Time{}), nil)
	rt.register("ag_1", engine)

	// All participants auto-accept: simulate each participant's own engine
	// replying Accept as soon as it receives a vote request.
	for _, id := range []string{"ag_2", "ag_3"} {
		rt.register(id, &autoAcceptEngine{transport: rt, self: id})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := engine.Propose(ctx, "sess_1", []string{"ag_1", "ag_2", "ag_3"}, []byte("proposal"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCommitted, outcome.Kind)
	assert.Equal(t, uint64(0), outcome.Index)
	assert.Equal(t, uint64(1), outcome.Term)
}

func TestMajorityVote_IndexAndTermAdvancePerSession(t *testing.T) {
	rt := newRouter()
	engine := NewMajorityVote(rt, clock.NewFake(time.Time{}), nil)
	rt.register("ag_1", engine)
	for _, id := range []string{"ag_2", "ag_3"} {
		rt.register(id, &autoAcceptEngine{transport: rt, self: id})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := engine.Propose(ctx, "sess_1", []string{"ag_1", "ag_2", "ag_3"}, []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Index)
	assert.Equal(t, uint64(1), first.Term)

	second, err := engine.Propose(ctx, "sess_1", []string{"ag_1", "ag_2", "ag_3"}, []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Index)
	assert.Equal(t, uint64(2), second.Term)

	// A different session's log indexes independently.
	otherSession, err := engine.Propose(ctx, "sess_2", []string{"ag_1", "ag_2", "ag_3"}, []byte("other"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), otherSession.Index)
	assert.Equal(t, uint64(1), otherSession.Term)
}

func TestMajorityVote_RejectsOnMinority(t *testing.T) {
	rt := newRouter()
	engine := NewMajorityVote(rt, clock.NewFake(time.Time{}), nil)
	rt.register("ag_1", engine)
	rt.register("ag_2", &autoRejectEngine{transport: rt, self: "ag_2"})
	rt.register("ag_3", &autoRejectEngine{transport: rt, self: "ag_3"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := engine.Propose(ctx, "sess_1", []string{"ag_1", "ag_2", "ag_3"}, []byte("proposal"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, outcome.Kind)
	assert.Equal(t, uint64(0), outcome.Index)
	assert.Equal(t, uint64(1), outcome.Term)
}

// autoAcceptEngine simulates a remote participant's MajorityVote instance
// that always votes Accept.
type autoAcceptEngine struct {
	transport Transport
	self      string
}

func (a *autoAcceptEngine) CurrentTerm() uint64         { return 0 }
func (a *autoAcceptEngine) CurrentLeader(string) string { return "" }
func (a *autoAcceptEngine) Propose(context.Context, string, []string, []byte) (model.DecisionOutcome, error) {
	return model.DecisionOutcome{}, nil
}
func (a *autoAcceptEngine) HandleMessage(ctx context.Context, msg Message) error {
	if msg.Kind != KindVoteRequest {
		return nil
	}
	return a.transport.Send(ctx, msg.From, Message{Kind: KindVoteResponse, SessionID: msg.SessionID, Index: msg.Index, Accept: true})
}

type autoRejectEngine struct {
	transport Transport
	self      string
}

func (a *autoRejectEngine) CurrentTerm() uint64         { return 0 }
func (a *autoRejectEngine) CurrentLeader(string) string { return "" }
func (a *autoRejectEngine) Propose(context.Context, string, []string, []byte) (model.DecisionOutcome, error) {
	return model.DecisionOutcome{}, nil
}
func (a *autoRejectEngine) HandleMessage(ctx context.Context, msg Message) error {
	if msg.Kind != KindVoteRequest {
		return nil
	}
	return a.transport.Send(ctx, msg.From, Message{Kind: KindVoteResponse, SessionID: msg.SessionID, Index: msg.Index, Accept: false})
}

func TestRaft_SingleNodeProposeCommits(t *testing.T) {
	rt := newRouter()
	engine := NewRaft("ag_1", rt, clock.NewFake(time.Time{}), nil)
	rt.register("ag_1", engine)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := engine.Propose(ctx, "sess_1", []string{"ag_1"}, []byte("entry"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCommitted, outcome.Kind)
	assert.Equal(t, "ag_1", engine.CurrentLeader("sess_1"))
}

func TestRaft_ThreeNodeClusterElectsAndCommits(t *testing.T) {
	rt := newRouter()
	a := NewRaft("ag_1", rt, clock.NewFake(time.Time{}), nil)
	b := NewRaft("ag_2", rt, clock.NewFake(time.Time{}), nil)
	c := NewRaft("ag_3", rt, clock.NewFake(time.Time{}), nil)
	rt.register("ag_1", a)
	rt.register("ag_2", b)
	rt.register("ag_3", c)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	outcome, err := a.Propose(ctx, "sess_1", []string{"ag_1", "ag_2", "ag_3"}, []byte("entry"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCommitted, outcome.Kind)
	assert.Equal(t, "ag_1", a.CurrentLeader("sess_1"))
}

func TestPaxos_SingleProposerCommits(t *testing.T) {
	rt := newRouter()
	a := NewPaxos("ag_1", rt, clock.NewFake(time.Time{}), nil)
	b := NewPaxos("ag_2", rt, clock.NewFake(time.Time{}), nil)
	c := NewPaxos("ag_3", rt, clock.NewFake(time.Time{}), nil)
	rt.register("ag_1", a)
	rt.register("ag_2", b)
	rt.register("ag_3", c)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	outcome, err := a.Propose(ctx, "sess_1", []string{"ag_1", "ag_2", "ag_3"}, []byte("value"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCommitted, outcome.Kind)
}

func TestBFT_FourNodeClusterCommitsWithOneFaulty(t *testing.T) {
	rt := newRouter()
	a := NewBFT("ag_1", rt, clock.NewFake(time.Time{}), nil)
	b := NewBFT("ag_2", rt, clock.NewFake(time.Time{}), nil)
	c := NewBFT("ag_3", rt, clock.NewFake(time.Time{}), nil)
	rt.register("ag_1", a)
	rt.register("ag_2", b)
	rt.register("ag_3", c)
	// ag_4 is faulty: never registered, so its sends silently vanish
	// (router.Send no-ops for unknown targets) yet quorum 2f+1=3 of 4 still
	// allows commit.

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	outcome, err := a.Propose(ctx, "sess_1", []string{"ag_1", "ag_2", "ag_3", "ag_4"}, []byte("value"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCommitted, outcome.Kind)
}
