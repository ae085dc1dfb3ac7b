package model

import "time"

// Priority orders delivery within a mailbox: Critical first, then High,
// Normal, Low. Heartbeats bypass configured priority entirely (see
// mailbox.Hub).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// MessageType tags the semantic kind of a message. Custom carries an
// operator-defined sub-tag for application traffic the core doesn't
// interpret.
type MessageType string

const (
	TypeRequest         MessageType = "request"
	TypeResponse        MessageType = "response"
	TypeNotification    MessageType = "notification"
	TypeHeartbeat       MessageType = "heartbeat"
	TypeCoordination    MessageType = "coordination"
	TypeConsensusVote   MessageType = "consensus_vote"
	TypeConsensusAppend MessageType = "consensus_append"
	TypeCustom          MessageType = "custom"
)

// RecipientKind discriminates how Recipient.Target is interpreted.
type RecipientKind int

const (
	RecipientAgent RecipientKind = iota
	RecipientBroadcast
	RecipientSession
)

// Recipient addresses a message to a single agent, a broadcast filter, or a
// session's membership.
type Recipient struct {
	Kind   RecipientKind
	Target string          // agent id or session id; unused for broadcast
	Filter BroadcastFilter // used only when Kind == RecipientBroadcast
}

// BroadcastFilter narrows which agents receive a broadcast message.
type BroadcastFilter struct {
	Type         string   // optional agent type match, "" means any
	Capabilities []string // agent must carry all of these
	Scope        string   // optional scope match, "" means any
}

// AgentRecipient addresses a single registered agent.
func AgentRecipient(agentID string) Recipient {
	return Recipient{Kind: RecipientAgent, Target: agentID}
}

// SessionRecipient addresses every current member of a session.
func SessionRecipient(sessionID string) Recipient {
	return Recipient{Kind: RecipientSession, Target: sessionID}
}

// BroadcastRecipient addresses every agent matching filter.
func BroadcastRecipient(filter BroadcastFilter) Recipient {
	return Recipient{Kind: RecipientBroadcast, Filter: filter}
}

// Message is the immutable unit of communication between agents. Once
// enqueued in a mailbox a Message is never mutated; retries and replies
// create new Message values.
type Message struct {
	ID            string
	Sender        string
	Recipient     Recipient
	Type          MessageType
	CustomType    string // set when Type == TypeCustom
	Priority      Priority
	Payload       []byte
	ContentType   string
	CreatedAt     time.Time
	TTL           time.Duration // zero means no expiry
	InReplyTo     string
	CorrelationID string
	SessionID     string
}

// Expired reports whether the message's TTL has elapsed as of now.
func (m *Message) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.Sub(m.CreatedAt) > m.TTL
}
