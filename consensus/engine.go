// Package consensus implements the pluggable Consensus Engine: one-shot
// majority vote plus term-based Raft, classic Paxos, and PBFT-style
// Byzantine fault tolerant algorithms, all driven by an injected Transport
// so the engine never assumes how participants actually exchange wire
// traffic.
package consensus

import (
	"context"
	"time"

	"github.com/rhema-dev/coordination/model"
)

// MessageKind discriminates the opaque consensus traffic an Engine
// exchanges with participants.
type MessageKind string

const (
	KindVoteRequest    MessageKind = "vote_request"
	KindVoteResponse   MessageKind = "vote_response"
	KindAppendEntries  MessageKind = "append_entries"
	KindAppendAck      MessageKind = "append_ack"
	KindRequestVote    MessageKind = "request_vote" // raft leader election
	KindGrantVote      MessageKind = "grant_vote"
	KindPrepare        MessageKind = "prepare" // paxos phase 1
	KindPromise        MessageKind = "promise"
	KindAccept         MessageKind = "accept" // paxos phase 2
	KindAccepted       MessageKind = "accepted"
	KindPrePrepare     MessageKind = "pre_prepare" // pbft phase 1
	KindPrePrepareAck  MessageKind = "pre_prepare_ack"
	KindPBFTPrepare    MessageKind = "pbft_prepare"
	KindPBFTPrepareAck MessageKind = "pbft_prepare_ack"
	KindPBFTCommit     MessageKind = "pbft_commit"
	KindPBFTCommitAck  MessageKind = "pbft_commit_ack"
)

// Message is the opaque envelope every consensus algorithm exchanges
// between participants. Fields not used by a given algorithm are left
// zero.
type Message struct {
	Kind         MessageKind
	SessionID    string
	From         string
	Term         uint64
	BallotNumber uint64
	Index        uint64
	Entry        []byte
	Accept       bool
}

// Transport delivers consensus Messages to other participants. The
// coordinator package holds an adapter over the mailbox hub
// (mailboxTransport); tests use an in-memory loopback transport.
type Transport interface {
	Send(ctx context.Context, to string, msg Message) error
}

// Engine is the interface every pluggable consensus algorithm implements.
type Engine interface {
	// Propose drives entry to a decision among participants, returning once
	// committed, rejected, timed out, or the leader changed mid-proposal.
	Propose(ctx context.Context, sessionID string, participants []string, entry []byte) (model.DecisionOutcome, error)
	// CurrentTerm returns the algorithm's notion of term/ballot/view; for
	// MajorityVote, the highest per-session proposal term it has assigned.
	CurrentTerm() uint64
	// CurrentLeader returns the participant id this engine currently
	// believes leads sessionID's consensus group, or "" if none/not
	// applicable.
	CurrentLeader(sessionID string) string
	// HandleMessage processes inbound consensus traffic addressed to this
	// engine. A participant's receive loop decodes TypeConsensusVote/
	// TypeConsensusAppend mailbox deliveries (coordinator.DecodeConsensusMessage)
	// and passes them here.
	HandleMessage(ctx context.Context, msg Message) error
}

func quorum(n int) int {
	return n/2 + 1
}

// defaultProposeTimeout bounds how long Propose waits for a decision before
// returning Undecided/Timeout when the caller's context carries no
// deadline.
const defaultProposeTimeout = 5 * time.Second

func proposeDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, defaultProposeTimeout)
}
