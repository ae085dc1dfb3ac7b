package consensus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/model"
)

// acceptorState is one session's classic-Paxos acceptor state: the highest
// ballot promised and, if any, the highest-ballot value accepted so far.
type acceptorState struct {
	promisedBallot uint64
	acceptedBallot uint64
	acceptedValue  []byte
}

// paxosRound accumulates phase-1 promises or phase-2 accepted
// acknowledgements for one proposer round.
type paxosRound struct {
	needed      int
	count       int
	bestBallot  uint64
	bestValue   []byte
	hadAccepted bool
	responses   chan struct{}
}

// Paxos implements single-decree classic Paxos: Prepare/Promise then
// Accept/Accepted, committing when a majority accepts the proposal
// carrying the highest ballot number this engine has issued.
type Paxos struct {
	mu        sync.Mutex
	selfID    string
	ballotSeq uint64
	acceptors map[string]*acceptorState
	rounds    map[string]*paxosRound

	transport Transport
	clock     clock.Clock
	logger    *zap.Logger
}

// NewPaxos builds a Paxos engine identifying itself as selfID.
func NewPaxos(selfID string, transport Transport, clk clock.Clock, logger *zap.Logger) *Paxos {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paxos{
		selfID:    selfID,
		acceptors: make(map[string]*acceptorState),
		rounds:    make(map[string]*paxosRound),
		transport: transport,
		clock:     clk,
		logger:    logger.With(zap.String("component", "consensus.paxos")),
	}
}

func (p *Paxos) CurrentTerm() uint64         { return p.ballotSeq }
func (p *Paxos) CurrentLeader(string) string { return "" }

func (p *Paxos) acceptorFor(sessionID string) *acceptorState {
	a, ok := p.acceptors[sessionID]
	if !ok {
		a = &acceptorState{}
		p.acceptors[sessionID] = a
	}
	return a
}

// Propose runs one Prepare/Promise then Accept/Accepted round for entry
// under a fresh, strictly increasing ballot. A round that does not reach
// quorum before the context deadline is not retried: a failed prepare
// returns Undecided and a failed accept returns Timeout.
func (p *Paxos) Propose(ctx context.Context, sessionID string, participants []string, entry []byte) (model.DecisionOutcome, error) {
	ctx, cancel := proposeDeadline(ctx)
	defer cancel()

	p.mu.Lock()
	p.ballotSeq++
	ballot := p.ballotSeq
	p.mu.Unlock()

	value, err := p.prepare(ctx, sessionID, participants, ballot, entry)
	if err != nil {
		return model.DecisionOutcome{Kind: model.OutcomeUndecided}, nil
	}

	committed, err := p.accept(ctx, sessionID, participants, ballot, value)
	if err != nil {
		return model.DecisionOutcome{Kind: model.OutcomeTimeout}, nil
	}
	if !committed {
		return model.DecisionOutcome{Kind: model.OutcomeRejected}, nil
	}
	return model.DecisionOutcome{Kind: model.OutcomeCommitted, Term: ballot}, nil
}

func (p *Paxos) prepare(ctx context.Context, sessionID string, participants []string, ballot uint64, proposed []byte) ([]byte, error) {
	key := pendingRoundKey(sessionID, "prepare", ballot)
	round := &paxosRound{needed: quorum(len(participants)), responses: make(chan struct{}, len(participants))}
	p.mu.Lock()
	p.rounds[key] = round
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.rounds, key)
		p.mu.Unlock()
	}()

	for _, target := range participants {
		if target == p.selfID {
			p.mu.Lock()
			a := p.acceptorFor(sessionID)
			if ballot > a.promisedBallot {
				a.promisedBallot = ballot
			}
			if a.acceptedBallot > round.bestBallot {
				round.bestBallot = a.acceptedBallot
				round.bestValue = a.acceptedValue
				round.hadAccepted = true
			}
			round.count++
			p.mu.Unlock()
			continue
		}
		_ = p.transport.Send(ctx, target, Message{Kind: KindPrepare, SessionID: sessionID, From: p.selfID, BallotNumber: ballot})
	}

	for round.count < round.needed {
		select {
		case <-round.responses:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if round.hadAccepted {
		return round.bestValue, nil
	}
	return proposed, nil
}

func (p *Paxos) accept(ctx context.Context, sessionID string, participants []string, ballot uint64, value []byte) (bool, error) {
	key := pendingRoundKey(sessionID, "accept", ballot)
	round := &paxosRound{needed: quorum(len(participants)), responses: make(chan struct{}, len(participants))}
	p.mu.Lock()
	p.rounds[key] = round
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.rounds, key)
		p.mu.Unlock()
	}()

	for _, target := range participants {
		if target == p.selfID {
			p.mu.Lock()
			a := p.acceptorFor(sessionID)
			if ballot >= a.promisedBallot {
				a.acceptedBallot = ballot
				a.acceptedValue = value
				round.count++
			}
			p.mu.Unlock()
			continue
		}
		_ = p.transport.Send(ctx, target, Message{Kind: KindAccept, SessionID: sessionID, From: p.selfID, BallotNumber: ballot, Entry: value})
	}

	for round.count < round.needed {
		select {
		case <-round.responses:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return true, nil
}

// HandleMessage implements acceptor behavior (Prepare/Accept) and
// proposer-side accumulation (Promise/Accepted).
func (p *Paxos) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Kind {
	case KindPrepare:
		return p.handlePrepare(ctx, msg)
	case KindPromise:
		p.recordRound(pendingRoundKey(msg.SessionID, "prepare", msg.Term), msg.BallotNumber, msg.Entry, msg.Accept)
		return nil
	case KindAccept:
		return p.handleAccept(ctx, msg)
	case KindAccepted:
		p.recordRound(pendingRoundKey(msg.SessionID, "accept", msg.BallotNumber), 0, nil, true)
		return nil
	}
	return nil
}

func (p *Paxos) handlePrepare(ctx context.Context, msg Message) error {
	p.mu.Lock()
	a := p.acceptorFor(msg.SessionID)
	promise := msg.BallotNumber > a.promisedBallot
	if promise {
		a.promisedBallot = msg.BallotNumber
	}
	reply := Message{
		Kind:         KindPromise,
		SessionID:    msg.SessionID,
		From:         p.selfID,
		Term:         msg.BallotNumber, // the proposer's round ballot, so it can match its pending round
		BallotNumber: a.acceptedBallot,
		Entry:        a.acceptedValue,
		Accept:       promise,
	}
	p.mu.Unlock()
	if !promise {
		return nil
	}
	return p.transport.Send(ctx, msg.From, reply)
}

func (p *Paxos) handleAccept(ctx context.Context, msg Message) error {
	p.mu.Lock()
	a := p.acceptorFor(msg.SessionID)
	accepted := msg.BallotNumber >= a.promisedBallot
	if accepted {
		a.promisedBallot = msg.BallotNumber
		a.acceptedBallot = msg.BallotNumber
		a.acceptedValue = msg.Entry
	}
	p.mu.Unlock()
	if !accepted {
		return nil
	}
	return p.transport.Send(ctx, msg.From, Message{Kind: KindAccepted, SessionID: msg.SessionID, From: p.selfID, BallotNumber: msg.BallotNumber})
}

func (p *Paxos) recordRound(key string, acceptedBallot uint64, value []byte, ok bool) {
	if !ok {
		return
	}
	p.mu.Lock()
	round, exists := p.rounds[key]
	if exists {
		if acceptedBallot > round.bestBallot {
			round.bestBallot = acceptedBallot
			round.bestValue = value
			round.hadAccepted = true
		}
		round.count++
	}
	p.mu.Unlock()
	if exists {
		select {
		case round.responses <- struct{}{}:
		default:
		}
	}
}

func pendingRoundKey(sessionID, phase string, ballot uint64) string {
	return sessionID + "/" + phase + "/" + uintToStr(ballot)
}
