package coordinator

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/rhema-dev/coordination/balancer"
	"github.com/rhema-dev/coordination/breaker"
	"github.com/rhema-dev/coordination/clock"
	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/consensus"
	"github.com/rhema-dev/coordination/mailbox"
	"github.com/rhema-dev/coordination/model"
	"github.com/rhema-dev/coordination/pattern"
	"github.com/rhema-dev/coordination/registry"
	"github.com/rhema-dev/coordination/resourcepool"
)

// dispatcher implements pattern.AgentDispatcher over the registry, balancer,
// and breaker: SelectAgent builds the candidate set from the registry and
// scores it with the balancer, Invoke runs the work function through that
// agent's circuit breaker and feeds the observed latency back to the
// balancer's response-time tracking.
type dispatcher struct {
	registry *registry.Registry
	hub      *mailbox.Hub
	balancer *balancer.Balancer
	breaker  *breaker.Breaker
	clock    clock.Clock
}

func newDispatcher(reg *registry.Registry, hub *mailbox.Hub, bal *balancer.Balancer, brk *breaker.Breaker, clk clock.Clock) *dispatcher {
	return &dispatcher{registry: reg, hub: hub, balancer: bal, breaker: brk, clock: clk}
}

func (d *dispatcher) SelectAgent(_ context.Context, required []string) (string, error) {
	ids := d.registry.CandidatesWithCapabilities(required)
	candidates := make([]balancer.Candidate, 0, len(ids))
	for _, id := range ids {
		agent, err := d.registry.Get(id)
		if err != nil {
			continue
		}
		candidates = append(candidates, balancer.Candidate{
			AgentID:      agent.ID,
			Status:       agent.Status,
			CircuitOpen:  d.breaker.State(agent.ID) == breaker.StateOpen,
			MailboxDepth: d.hub.Depth(agent.ID),
			Weight:       1,
			Capabilities: agent.Capabilities,
		})
	}
	return d.balancer.Select(candidates, required)
}

func (d *dispatcher) Invoke(ctx context.Context, agentID string, work func(context.Context) (any, error)) (any, error) {
	if err := d.breaker.Allow(agentID); err != nil {
		return nil, err
	}
	start := d.clock.Now()
	out, err := work(ctx)
	d.balancer.RecordResponseTime(agentID, d.clock.Now().Sub(start))
	if err != nil {
		d.breaker.RecordFailure(agentID)
		return nil, err
	}
	d.breaker.RecordSuccess(agentID)
	return out, nil
}

// pool adapts resourcepool.Pool to pattern.ResourcePool, translating the
// pattern package's deliberately decoupled ResourceRequest into
// resourcepool.Request.
type pool struct {
	inner *resourcepool.Pool
}

func newPool(inner *resourcepool.Pool) *pool { return &pool{inner: inner} }

func (p *pool) TryReserve(id, owner string, reqs []pattern.ResourceRequest) error {
	converted := make([]resourcepool.Request, len(reqs))
	for i, r := range reqs {
		converted[i] = resourcepool.Request{Namespace: resourcepool.Namespace(r.Namespace), Amount: r.Amount}
	}
	return p.inner.TryReserve(id, owner, converted)
}

func (p *pool) Release(id string) error { return p.inner.Release(id) }

// router adapts the mailbox hub to session.Router: Broadcast delivers msg
// individually to each named recipient since the hub's own Broadcast takes
// a predicate over all registered mailboxes rather than an explicit id
// list.
type router struct {
	hub *mailbox.Hub
}

func newRouter(hub *mailbox.Hub) *router { return &router{hub: hub} }

func (r *router) Broadcast(ctx context.Context, recipients []string, msg model.Message) error {
	var firstErr error
	for _, id := range recipients {
		m := msg
		m.Recipient = model.AgentRecipient(id)
		if err := r.hub.Send(ctx, &m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mailboxTransport adapts the mailbox hub to consensus.Transport, carrying
// consensus wire traffic as gob-encoded payloads inside ordinary Messages
// addressed by TypeConsensusVote/TypeConsensusAppend depending on the
// message kind. A participant process receiving one of these from its own
// mailbox decodes it with DecodeConsensusMessage and feeds it to its local
// Engine's HandleMessage.
type mailboxTransport struct {
	hub  *mailbox.Hub
	self string
	clk  clock.Clock
}

func newMailboxTransport(hub *mailbox.Hub, self string, clk clock.Clock) *mailboxTransport {
	return &mailboxTransport{hub: hub, self: self, clk: clk}
}

func (t *mailboxTransport) Send(ctx context.Context, to string, msg consensus.Message) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return coorderr.New(coorderr.CodeInvalidSpec, "failed to encode consensus message").WithCause(err)
	}
	envelope := &model.Message{
		ID:        clock.NewID(clock.KindMessage),
		Sender:    t.self,
		Recipient: model.AgentRecipient(to),
		Type:      consensusMessageType(msg.Kind),
		Priority:  model.PriorityCritical,
		Payload:   buf.Bytes(),
		CreatedAt: t.clk.Now(),
		SessionID: msg.SessionID,
	}
	return t.hub.Send(ctx, envelope)
}

func consensusMessageType(kind consensus.MessageKind) model.MessageType {
	switch kind {
	case consensus.KindAppendEntries, consensus.KindAppendAck:
		return model.TypeConsensusAppend
	default:
		return model.TypeConsensusVote
	}
}

// DecodeConsensusMessage recovers the consensus.Message carried in a
// mailbox envelope produced by mailboxTransport.Send.
func DecodeConsensusMessage(envelope *model.Message) (consensus.Message, error) {
	var msg consensus.Message
	if err := gob.NewDecoder(bytes.NewReader(envelope.Payload)).Decode(&msg); err != nil {
		return consensus.Message{}, coorderr.New(coorderr.CodeInvalidSpec, "failed to decode consensus message").WithCause(err)
	}
	return msg, nil
}
