// Package mailbox implements the Message Router & Queue: bounded
// per-agent priority mailboxes, direct and broadcast delivery, and the
// configured overflow policy when a mailbox is full.
package mailbox

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

// OverflowPolicy names how a full mailbox handles an incoming message.
type OverflowPolicy string

const (
	// DropOldestLower evicts the oldest entry whose priority is strictly
	// lower than the incoming message's, then admits the new message. If no
	// such entry exists, the send fails with QueueFull.
	DropOldestLower OverflowPolicy = "drop_oldest_lower"
	// RejectNew always fails the incoming send with QueueFull.
	RejectNew OverflowPolicy = "reject_new"
	// ShedLow evicts the single lowest-priority entry in the mailbox
	// (regardless of the incoming message's priority) to make room.
	ShedLow OverflowPolicy = "shed_low"
)

// OverflowStore records messages an overflow policy refused for
// operator-triggered replay. Hub.Send records the incoming message whenever
// its push fails; entries that ShedLow or DropOldestLower evict to make room
// are not recorded. It is an audit aid only: it never changes delivery-order
// guarantees, and a nil store simply discards what would have been recorded.
type OverflowStore interface {
	RecordDropped(ctx context.Context, recipientID string, msg *model.Message, reason string) error
}

// Box is one agent's bounded priority mailbox.
type Box struct {
	mu       sync.Mutex
	items    priorityHeap
	capacity int
	policy   OverflowPolicy
	notify   chan struct{}
}

func newBox(capacity int, policy OverflowPolicy) *Box {
	return &Box{
		items:    make(priorityHeap, 0),
		capacity: capacity,
		policy:   policy,
		notify:   make(chan struct{}, 1),
	}
}

func (b *Box) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// depth returns the current queue length, used by the load balancer's
// LeastConnections strategy.
func (b *Box) depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// push admits e, applying the overflow policy if the box is already at
// capacity. Returns coorderr.CodeQueueFull if the policy rejects it.
func (b *Box) push(e *entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) < b.capacity {
		heap.Push(&b.items, e)
		b.signal()
		return nil
	}

	switch b.policy {
	case RejectNew:
		return coorderr.New(coorderr.CodeQueueFull, "mailbox full, policy rejects new messages").WithRetryable(true)

	case ShedLow:
		idx := lowestPriorityIndex(b.items)
		if idx < 0 {
			return coorderr.New(coorderr.CodeQueueFull, "mailbox full").WithRetryable(true)
		}
		heap.Remove(&b.items, idx)
		heap.Push(&b.items, e)
		b.signal()
		return nil

	case DropOldestLower:
		idx := -1
		var oldestSeq uint64
		for i, it := range b.items {
			if it.effectivePriority() < e.effectivePriority() {
				if idx < 0 || it.seq < oldestSeq {
					idx = i
					oldestSeq = it.seq
				}
			}
		}
		if idx < 0 {
			return coorderr.New(coorderr.CodeQueueFull, "mailbox full, no lower-priority entry to evict").WithRetryable(true)
		}
		heap.Remove(&b.items, idx)
		heap.Push(&b.items, e)
		b.signal()
		return nil

	default:
		return coorderr.New(coorderr.CodeInvalidConfiguration, "unknown overflow policy")
	}
}

// pop removes and returns the highest-priority, earliest-enqueued entry, or
// nil if the box is empty.
func (b *Box) pop() *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	return heap.Pop(&b.items).(*entry)
}

// Hub owns every agent's mailbox and implements send/receive/broadcast.
type Hub struct {
	mu       sync.RWMutex
	boxes    map[string]*Box
	capacity int
	policy   OverflowPolicy
	store    OverflowStore
	seq      uint64
	seqMu    sync.Mutex
	logger   *zap.Logger
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithOverflowStore attaches an audit/replay store for dropped messages.
func WithOverflowStore(store OverflowStore) Option {
	return func(h *Hub) { h.store = store }
}

// New builds a Hub where every mailbox has the given capacity and overflow
// policy.
func New(capacity int, policy OverflowPolicy, logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		boxes:    make(map[string]*Box),
		capacity: capacity,
		policy:   policy,
		logger:   logger.With(zap.String("component", "mailbox")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register creates an empty mailbox for agentID. Calling it for an agent
// that already has one is a no-op.
func (h *Hub) Register(agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.boxes[agentID]; !ok {
		h.boxes[agentID] = newBox(h.capacity, h.policy)
	}
}

// Unregister removes agentID's mailbox. Any messages still queued for it
// are discarded.
func (h *Hub) Unregister(agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.boxes, agentID)
}

// Depth returns agentID's current mailbox depth, or 0 if it has none.
func (h *Hub) Depth(agentID string) int {
	h.mu.RLock()
	box, ok := h.boxes[agentID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	return box.depth()
}

// Capacity returns the per-mailbox capacity every Box in this Hub was
// created with, used by the monitor to compute queue saturation.
func (h *Hub) Capacity() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.capacity
}

func (h *Hub) nextSeq() uint64 {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	h.seq++
	return h.seq
}

// Send enqueues msg to the agent addressed by msg.Recipient (which must be
// RecipientAgent; callers route Session/Broadcast recipients through
// SendToSession/Broadcast instead). Fails with UnknownRecipient if the
// target has no mailbox, or QueueFull if the overflow policy rejects it.
func (h *Hub) Send(ctx context.Context, msg *model.Message) error {
	h.mu.RLock()
	box, ok := h.boxes[msg.Recipient.Target]
	h.mu.RUnlock()
	if !ok {
		return coorderr.New(coorderr.CodeUnknownRecipient, "recipient has no mailbox").WithTarget(msg.Recipient.Target)
	}

	e := &entry{msg: msg, seq: h.nextSeq(), isHeartbeat: msg.Type == model.TypeHeartbeat}
	if err := box.push(e); err != nil {
		if h.store != nil {
			_ = h.store.RecordDropped(ctx, msg.Recipient.Target, msg, string(h.policy))
		}
		return err
	}
	return nil
}

// Broadcast sends a copy of msg to every registered agent matching filter.
// Ordering within a single recipient's mailbox is preserved; ordering
// across recipients is not guaranteed.
func (h *Hub) Broadcast(ctx context.Context, filter func(agentID string) bool, msg *model.Message) []error {
	h.mu.RLock()
	targets := make([]string, 0, len(h.boxes))
	for id := range h.boxes {
		if filter == nil || filter(id) {
			targets = append(targets, id)
		}
	}
	h.mu.RUnlock()

	var errs []error
	for _, id := range targets {
		cp := *msg
		cp.Recipient = model.AgentRecipient(id)
		if err := h.Send(ctx, &cp); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Receive dequeues the highest-priority ready message for agentID, waiting
// until deadline. It honors ctx cancellation: on cancel, no message is
// consumed.
func (h *Hub) Receive(ctx context.Context, agentID string, deadline time.Time) (*model.Message, error) {
	h.mu.RLock()
	box, ok := h.boxes[agentID]
	h.mu.RUnlock()
	if !ok {
		return nil, coorderr.New(coorderr.CodeUnknownAgent, "agent has no mailbox").WithTarget(agentID)
	}

	for {
		if ctx.Err() != nil {
			return nil, coorderr.New(coorderr.CodeCancelled, "receive cancelled").WithTarget(agentID)
		}
		if e := box.pop(); e != nil {
			return e.msg, nil
		}

		var wait <-chan time.Time
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return nil, coorderr.New(coorderr.CodeTimeout, "receive deadline elapsed").WithTarget(agentID)
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			wait = timer.C
		}

		select {
		case <-ctx.Done():
			return nil, coorderr.New(coorderr.CodeCancelled, "receive cancelled").WithTarget(agentID)
		case <-wait:
			return nil, coorderr.New(coorderr.CodeTimeout, "receive deadline elapsed").WithTarget(agentID)
		case <-box.notify:
			// loop and re-check
		}
	}
}
