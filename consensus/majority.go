package consensus

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/model"
)

// ballot tracks one in-flight MajorityVote proposal's accumulated votes.
type ballot struct {
	total     int
	accepts   int
	rejects   int
	responses chan struct{}
}

// MajorityVote is a one-shot consensus algorithm: every participant votes
// Accept or Reject once; the proposal commits if strictly more than half
// accept, otherwise it is rejected. A tie breaks to Reject. A participant
// that never responds counts toward neither accepts nor rejects; the
// proposal resolves Undecided if the deadline elapses before quorum is
// reached.
type MajorityVote struct {
	mu      sync.Mutex
	ballots map[string]*ballot
	indexes map[string]uint64
	terms   map[string]uint64

	transport Transport
	clock     clock.Clock
	logger    *zap.Logger
}

// NewMajorityVote builds a MajorityVote engine that sends vote requests
// through transport.
func NewMajorityVote(transport Transport, clk clock.Clock, logger *zap.Logger) *MajorityVote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MajorityVote{
		ballots:   make(map[string]*ballot),
		indexes:   make(map[string]uint64),
		terms:     make(map[string]uint64),
		transport: transport,
		clock:     clk,
		logger:    logger.With(zap.String("component", "consensus.majority")),
	}
}

// CurrentTerm returns the highest term this engine has assigned to any
// session's proposal.
func (m *MajorityVote) CurrentTerm() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max uint64
	for _, t := range m.terms {
		if t > max {
			max = t
		}
	}
	return max
}

func (m *MajorityVote) CurrentLeader(string) string { return "" }

// Propose requests a vote from every participant and waits for quorum or
// the context deadline.
func (m *MajorityVote) Propose(ctx context.Context, sessionID string, participants []string, entry []byte) (model.DecisionOutcome, error) {
	ctx, cancel := proposeDeadline(ctx)
	defer cancel()

	m.mu.Lock()
	idx := m.indexes[sessionID]
	m.indexes[sessionID]++
	m.terms[sessionID]++
	term := m.terms[sessionID]
	key := ballotKey(sessionID, idx)
	b := &ballot{total: len(participants), responses: make(chan struct{}, len(participants))}
	m.ballots[key] = b
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.ballots, key)
		m.mu.Unlock()
	}()

	for _, p := range participants {
		msg := Message{Kind: KindVoteRequest, SessionID: sessionID, Index: idx, Entry: entry}
		if err := m.transport.Send(ctx, p, msg); err != nil {
			m.logger.Warn("vote request delivery failed", zap.String("participant", p), zap.Error(err))
		}
	}

	needed := quorum(len(participants))
	received := 0
	for {
		select {
		case <-b.responses:
			received++
			m.mu.Lock()
			accepts, rejects := b.accepts, b.rejects
			m.mu.Unlock()
			if accepts >= needed {
				return model.DecisionOutcome{Kind: model.OutcomeCommitted, Index: idx, Term: term}, nil
			}
			if rejects >= needed || received == b.total {
				return model.DecisionOutcome{Kind: model.OutcomeRejected, Index: idx, Term: term}, nil
			}
		case <-ctx.Done():
			return model.DecisionOutcome{Kind: model.OutcomeUndecided, Index: idx, Term: term}, nil
		}
	}
}

// HandleMessage records an inbound vote response against its ballot.
func (m *MajorityVote) HandleMessage(_ context.Context, msg Message) error {
	if msg.Kind != KindVoteResponse {
		return nil
	}
	m.mu.Lock()
	b, ok := m.ballots[ballotKey(msg.SessionID, msg.Index)]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if msg.Accept {
		b.accepts++
	} else {
		b.rejects++
	}
	m.mu.Unlock()

	select {
	case b.responses <- struct{}{}:
	default:
	}
	return nil
}

func ballotKey(sessionID string, index uint64) string {
	return sessionID + ":" + strconv.FormatUint(index, 10)
}
