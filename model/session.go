package model

import "time"

// SessionState is a node in the session lifecycle: Open -> Deciding -> Open
// (after a decision resolves) or Closed/Aborted as terminal states.
type SessionState string

const (
	SessionOpen     SessionState = "open"
	SessionDeciding SessionState = "deciding"
	SessionClosed   SessionState = "closed"
	SessionAborted  SessionState = "aborted"
)

// AccessPolicy gates who may join a session.
type AccessPolicy int

const (
	AccessOpen AccessPolicy = iota
	AccessInviteOnly
	AccessCapabilityGated
)

// ConflictPolicyKind names the built-in conflict resolution strategies; Merge
// carries an arbitrary function instead of being a closed enum case, so
// callers can supply domain-specific merge logic.
type ConflictPolicyKind string

const (
	ConflictFirstWriteWins ConflictPolicyKind = "first_write_wins"
	ConflictLastWriteWins  ConflictPolicyKind = "last_write_wins"
	ConflictReject         ConflictPolicyKind = "reject"
	ConflictMerge          ConflictPolicyKind = "merge"
)

// MergeFunc resolves two conflicting decision log entries into one.
type MergeFunc func(existing, incoming []byte) ([]byte, error)

// ConflictPolicy pairs a strategy with its Merge function when applicable.
type ConflictPolicy struct {
	Kind  ConflictPolicyKind
	Merge MergeFunc
}

// MessageFilter is a composable predicate over a message's type and
// priority, used by Session rules to scope which traffic reaches members.
type MessageFilter func(Message) bool

// AllowAll is the default MessageFilter: every message passes.
func AllowAll(Message) bool { return true }

// DecisionPolicy names which consensus algorithm a session's decide()
// delegates to.
type DecisionPolicy string

const (
	DecisionMajorityVote DecisionPolicy = "majority_vote"
	DecisionRaft         DecisionPolicy = "raft"
	DecisionPaxos        DecisionPolicy = "paxos"
	DecisionBFT          DecisionPolicy = "bft"
)

// SessionRules bundles a session's optional policies. A zero-value SessionRules
// means access is Open, every message passes the filter, decisions use
// MajorityVote, and conflicts reject.
type SessionRules struct {
	AccessPolicy         AccessPolicy
	CapabilityGate       map[string]struct{} // used when AccessPolicy == AccessCapabilityGated
	MessageFilter        MessageFilter
	DecisionPolicy       DecisionPolicy
	Conflict             ConflictPolicy
}

// OutcomeKind is the terminal result of a consensus proposal.
type OutcomeKind string

const (
	OutcomeCommitted     OutcomeKind = "committed"
	OutcomeRejected      OutcomeKind = "rejected"
	OutcomeTimeout       OutcomeKind = "timeout"
	OutcomeLeaderChanged OutcomeKind = "leader_changed"
	OutcomeUndecided     OutcomeKind = "undecided"
)

// DecisionOutcome is what a Consensus Engine returns from a proposal.
type DecisionOutcome struct {
	Kind  OutcomeKind
	Index uint64
	Term  uint64
}

// DecisionLogEntry is one append-only record in a session's decision log.
type DecisionLogEntry struct {
	Term      uint64
	Index     uint64
	Proposer  string
	Payload   []byte
	Committed bool
	DecidedAt time.Time
}

// Session is a coordination session: a set of agents agreeing on decisions
// under a shared rule set. Agents join while it is Open or Deciding and
// leave through Leave; its decision log is append-only for its entire
// lifetime.
type Session struct {
	ID           string
	Topic        string
	Creator      string
	Participants []string // ordered by join time
	Rules        SessionRules
	State        SessionState
	CreatedAt    time.Time
	ClosedAt     time.Time
	DecisionLog  []DecisionLogEntry
}

// HasParticipant reports whether agentID is currently a member.
func (s *Session) HasParticipant(agentID string) bool {
	for _, id := range s.Participants {
		if id == agentID {
			return true
		}
	}
	return false
}

// Mutable reports whether the session still accepts membership/state
// changes: only while Open or Deciding.
func (s *Session) Mutable() bool {
	return s.State == SessionOpen || s.State == SessionDeciding
}
