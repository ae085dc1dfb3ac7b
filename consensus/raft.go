package consensus

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/model"
)

// raftLogEntry is one entry in a session's replicated log.
type raftLogEntry struct {
	term      uint64
	entry     []byte
	committed bool
}

// raftSessionState is one session's term-based election and log state.
type raftSessionState struct {
	term     uint64
	votedFor string
	leader   string
	log      []raftLogEntry
}

// pendingRPC accumulates affirmative responses to an in-flight
// RequestVote or AppendEntries round for one session.
type pendingRPC struct {
	needed    int
	granted   int
	responses chan struct{}
}

// Raft is a term-based leader election and log replication engine. A
// Raft value is one participant's view; a session's full consensus group
// runs one Raft per participant, all wired to a shared Transport.
type Raft struct {
	mu       sync.Mutex
	selfID   string
	sessions map[string]*raftSessionState
	pending  map[string]*pendingRPC

	electionTimeoutMin time.Duration
	electionTimeoutMax time.Duration

	transport Transport
	clock     clock.Clock
	logger    *zap.Logger
}

// RaftOption configures a Raft engine at construction.
type RaftOption func(*Raft)

// WithElectionTimeoutRange sets [min, max]; a follower's randomized
// election timeout is drawn uniformly from this range, per the
// [T, 2T] jitter this algorithm requires to avoid split votes.
func WithElectionTimeoutRange(min, max time.Duration) RaftOption {
	return func(r *Raft) {
		r.electionTimeoutMin = min
		r.electionTimeoutMax = max
	}
}

// NewRaft builds a Raft engine identifying itself as selfID.
func NewRaft(selfID string, transport Transport, clk clock.Clock, logger *zap.Logger, opts ...RaftOption) *Raft {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Raft{
		selfID:             selfID,
		sessions:           make(map[string]*raftSessionState),
		pending:            make(map[string]*pendingRPC),
		electionTimeoutMin: 150 * time.Millisecond,
		electionTimeoutMax: 300 * time.Millisecond,
		transport:          transport,
		clock:              clk,
		logger:             logger.With(zap.String("component", "consensus.raft")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Raft) sessionState(sessionID string) *raftSessionState {
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &raftSessionState{}
		r.sessions[sessionID] = s
	}
	return s
}

// CurrentTerm returns the highest term this engine has observed across any
// session.
func (r *Raft) CurrentTerm() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max uint64
	for _, s := range r.sessions {
		if s.term > max {
			max = s.term
		}
	}
	return max
}

// CurrentLeader returns the participant this engine believes leads
// sessionID, or "" if no leader is known yet.
func (r *Raft) CurrentLeader(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		return s.leader
	}
	return ""
}

func pendingKey(sessionID, kind string, term uint64) string {
	return sessionID + "/" + kind + "/" + uintToStr(term)
}

// Propose runs an election if this engine doesn't already believe itself
// leader for sessionID, then replicates entry to a majority of
// participants and reports it committed.
func (r *Raft) Propose(ctx context.Context, sessionID string, participants []string, entry []byte) (model.DecisionOutcome, error) {
	ctx, cancel := proposeDeadline(ctx)
	defer cancel()

	if r.CurrentLeader(sessionID) != r.selfID {
		if err := r.runElection(ctx, sessionID, participants); err != nil {
			return model.DecisionOutcome{Kind: model.OutcomeUndecided}, nil
		}
	}

	r.mu.Lock()
	s := r.sessionState(sessionID)
	if s.leader != r.selfID {
		r.mu.Unlock()
		return model.DecisionOutcome{Kind: model.OutcomeLeaderChanged, Term: s.term}, nil
	}
	s.log = append(s.log, raftLogEntry{term: s.term, entry: entry})
	index := uint64(len(s.log))
	term := s.term
	key := pendingKey(sessionID, "append", index)
	rpc := &pendingRPC{needed: quorum(len(participants)), responses: make(chan struct{}, len(participants))}
	r.pending[key] = rpc
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
	}()

	for _, p := range participants {
		if p == r.selfID {
			rpc.granted++
			continue
		}
		msg := Message{Kind: KindAppendEntries, SessionID: sessionID, From: r.selfID, Term: term, Index: index, Entry: entry}
		_ = r.transport.Send(ctx, p, msg)
	}
	if rpc.granted >= rpc.needed {
		r.commit(sessionID, index)
		return model.DecisionOutcome{Kind: model.OutcomeCommitted, Index: index, Term: term}, nil
	}

	for {
		select {
		case <-rpc.responses:
			if rpc.granted >= rpc.needed {
				r.commit(sessionID, index)
				return model.DecisionOutcome{Kind: model.OutcomeCommitted, Index: index, Term: term}, nil
			}
		case <-ctx.Done():
			return model.DecisionOutcome{Kind: model.OutcomeTimeout, Index: index, Term: term}, nil
		}
	}
}

func (r *Raft) commit(sessionID string, index uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessionState(sessionID)
	if int(index) <= len(s.log) {
		s.log[index-1].committed = true
	}
}

// runElection campaigns for leadership of sessionID, returning once this
// engine becomes leader, the context is done, or its randomized election
// timeout elapses without a quorum of votes.
func (r *Raft) runElection(ctx context.Context, sessionID string, participants []string) error {
	r.mu.Lock()
	s := r.sessionState(sessionID)
	s.term++
	s.votedFor = r.selfID
	s.leader = ""
	term := s.term
	key := pendingKey(sessionID, "vote", term)
	rpc := &pendingRPC{needed: quorum(len(participants)), responses: make(chan struct{}, len(participants))}
	r.pending[key] = rpc
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
	}()

	for _, p := range participants {
		if p == r.selfID {
			rpc.granted++
			continue
		}
		msg := Message{Kind: KindRequestVote, SessionID: sessionID, From: r.selfID, Term: term}
		_ = r.transport.Send(ctx, p, msg)
	}

	if rpc.granted >= rpc.needed {
		r.becomeLeader(sessionID, term)
		return nil
	}

	jitter := r.electionTimeoutMax - r.electionTimeoutMin
	timeout := r.electionTimeoutMin
	if jitter > 0 {
		timeout += time.Duration(rand.Int63n(int64(jitter) + 1))
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-rpc.responses:
			if rpc.granted >= rpc.needed {
				r.becomeLeader(sessionID, term)
				return nil
			}
		case <-timer.C:
			return errUndecidedElection
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Raft) becomeLeader(sessionID string, term uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessionState(sessionID)
	if s.term == term {
		s.leader = r.selfID
	}
}

// HandleMessage processes inbound Raft RPCs: vote requests/grants and
// append-entries requests/acks.
func (r *Raft) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Kind {
	case KindRequestVote:
		return r.handleRequestVote(ctx, msg)
	case KindGrantVote:
		r.recordResponse(pendingKey(msg.SessionID, "vote", msg.Term))
		return nil
	case KindAppendEntries:
		return r.handleAppendEntries(ctx, msg)
	case KindAppendAck:
		r.recordResponse(pendingKey(msg.SessionID, "append", msg.Index))
		return nil
	}
	return nil
}

func (r *Raft) recordResponse(key string) {
	r.mu.Lock()
	rpc, ok := r.pending[key]
	if ok {
		rpc.granted++
	}
	r.mu.Unlock()
	if ok {
		select {
		case rpc.responses <- struct{}{}:
		default:
		}
	}
}

func (r *Raft) handleRequestVote(ctx context.Context, msg Message) error {
	r.mu.Lock()
	s := r.sessionState(msg.SessionID)
	grant := msg.Term > s.term || (msg.Term == s.term && (s.votedFor == "" || s.votedFor == msg.From))
	if grant {
		s.term = msg.Term
		s.votedFor = msg.From
		s.leader = ""
	}
	r.mu.Unlock()

	if grant {
		return r.transport.Send(ctx, msg.From, Message{Kind: KindGrantVote, SessionID: msg.SessionID, From: r.selfID, Term: msg.Term})
	}
	return nil
}

func (r *Raft) handleAppendEntries(ctx context.Context, msg Message) error {
	r.mu.Lock()
	s := r.sessionState(msg.SessionID)
	if msg.Term >= s.term {
		s.term = msg.Term
		s.leader = msg.From
		for uint64(len(s.log)) < msg.Index {
			s.log = append(s.log, raftLogEntry{})
		}
		s.log[msg.Index-1] = raftLogEntry{term: msg.Term, entry: msg.Entry}
	}
	r.mu.Unlock()

	return r.transport.Send(ctx, msg.From, Message{Kind: KindAppendAck, SessionID: msg.SessionID, From: r.selfID, Index: msg.Index})
}

var errUndecidedElection = &electionError{}

type electionError struct{}

func (*electionError) Error() string { return "election did not reach quorum before timeout" }

func uintToStr(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
