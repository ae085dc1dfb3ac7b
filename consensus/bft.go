package consensus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/model"
)

// bftRound accumulates matching acknowledgements for one phase of one
// in-flight proposal.
type bftRound struct {
	needed    int
	count     int
	responses chan struct{}
}

// BFT implements a single-decree PBFT-style three-phase protocol
// (pre-prepare, prepare, commit), tolerating f faulty participants out of
// 3f+1 by requiring 2f+1 matching acknowledgements at each phase before
// committing.
type BFT struct {
	mu     sync.Mutex
	selfID string
	seq    uint64
	rounds map[string]*bftRound

	transport Transport
	clock     clock.Clock
	logger    *zap.Logger
}

// NewBFT builds a BFT engine identifying itself as selfID.
func NewBFT(selfID string, transport Transport, clk clock.Clock, logger *zap.Logger) *BFT {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BFT{
		selfID:    selfID,
		rounds:    make(map[string]*bftRound),
		transport: transport,
		clock:     clk,
		logger:    logger.With(zap.String("component", "consensus.bft")),
	}
}

func (b *BFT) CurrentTerm() uint64         { return b.seq }
func (b *BFT) CurrentLeader(string) string { return "" }

// quorumFor2f1 computes 2f+1 for n = 3f+1 participants: the protocol's
// fault tolerance assumes at most f = (n-1)/3 faulty participants.
func quorumFor2f1(n int) int {
	f := (n - 1) / 3
	return 2*f + 1
}

// Propose drives entry through pre-prepare, prepare, and commit phases,
// each requiring 2f+1 matching acknowledgements before advancing.
func (b *BFT) Propose(ctx context.Context, sessionID string, participants []string, entry []byte) (model.DecisionOutcome, error) {
	ctx, cancel := proposeDeadline(ctx)
	defer cancel()

	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	needed := quorumFor2f1(len(participants))

	if err := b.phase(ctx, sessionID, participants, seq, KindPrePrepare, entry, needed); err != nil {
		return model.DecisionOutcome{Kind: model.OutcomeTimeout, Index: seq}, nil
	}
	if err := b.phase(ctx, sessionID, participants, seq, KindPBFTPrepare, entry, needed); err != nil {
		return model.DecisionOutcome{Kind: model.OutcomeRejected, Index: seq}, nil
	}
	if err := b.phase(ctx, sessionID, participants, seq, KindPBFTCommit, entry, needed); err != nil {
		return model.DecisionOutcome{Kind: model.OutcomeRejected, Index: seq}, nil
	}
	return model.DecisionOutcome{Kind: model.OutcomeCommitted, Index: seq}, nil
}

func (b *BFT) phaseKey(sessionID string, seq uint64, kind MessageKind) string {
	return sessionID + "/" + string(kind) + "/" + uintToStr(seq)
}

func (b *BFT) phase(ctx context.Context, sessionID string, participants []string, seq uint64, kind MessageKind, entry []byte, needed int) error {
	key := b.phaseKey(sessionID, seq, kind)
	round := &bftRound{needed: needed, responses: make(chan struct{}, len(participants))}
	b.mu.Lock()
	b.rounds[key] = round
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.rounds, key)
		b.mu.Unlock()
	}()

	for _, p := range participants {
		if p == b.selfID {
			round.count++
			continue
		}
		_ = b.transport.Send(ctx, p, Message{Kind: kind, SessionID: sessionID, From: b.selfID, Index: seq, Entry: entry})
	}

	for round.count < round.needed {
		select {
		case <-round.responses:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func ackKindFor(kind MessageKind) MessageKind {
	switch kind {
	case KindPrePrepare:
		return KindPrePrepareAck
	case KindPBFTPrepare:
		return KindPBFTPrepareAck
	case KindPBFTCommit:
		return KindPBFTCommitAck
	default:
		return kind
	}
}

// HandleMessage acknowledges pre-prepare/prepare/commit traffic by
// replying with the matching ack kind, and records acks addressed back to
// this engine's own in-flight rounds.
func (b *BFT) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Kind {
	case KindPrePrepare, KindPBFTPrepare, KindPBFTCommit:
		ack := Message{Kind: ackKindFor(msg.Kind), SessionID: msg.SessionID, From: b.selfID, Index: msg.Index}
		return b.transport.Send(ctx, msg.From, ack)
	}

	b.mu.Lock()
	key := b.phaseKey(msg.SessionID, msg.Index, requestKindFor(msg.Kind))
	round, ok := b.rounds[key]
	if ok {
		round.count++
	}
	b.mu.Unlock()
	if ok {
		select {
		case round.responses <- struct{}{}:
		default:
		}
	}
	return nil
}

func requestKindFor(ack MessageKind) MessageKind {
	switch ack {
	case KindPrePrepareAck:
		return KindPrePrepare
	case KindPBFTPrepareAck:
		return KindPBFTPrepare
	case KindPBFTCommitAck:
		return KindPBFTCommit
	default:
		return ack
	}
}
