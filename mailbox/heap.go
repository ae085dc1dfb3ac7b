package mailbox

import (
	"container/heap"

	"github.com/rhema-dev/coordination/model"
)

// entry is one queued message plus the sequence number used to break
// priority ties in FIFO order and a heartbeat override flag.
type entry struct {
	msg         *model.Message
	seq         uint64
	isHeartbeat bool
}

// effectivePriority returns the priority entry sorts by: heartbeats always
// sort as Critical+1, i.e. strictly above any configured priority,
// regardless of the message's own Priority field.
func (e *entry) effectivePriority() int {
	if e.isHeartbeat {
		return int(model.PriorityCritical) + 1
	}
	return int(e.msg.Priority)
}

// priorityHeap is a max-heap on (effectivePriority, then lower seq first)
// implementing container/heap.Interface.
type priorityHeap []*entry

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	pi, pj := h[i].effectivePriority(), h[j].effectivePriority()
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(*entry))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// lowestPriorityIndex returns the index of the lowest-effective-priority,
// latest-enqueued entry in h, used by the ShedLow and DropOldestLower
// overflow policies. Returns -1 if h is empty.
func lowestPriorityIndex(h priorityHeap) int {
	if len(h) == 0 {
		return -1
	}
	worst := 0
	for i := 1; i < len(h); i++ {
		pi, pw := h[i].effectivePriority(), h[worst].effectivePriority()
		if pi < pw || (pi == pw && h[i].seq > h[worst].seq) {
			worst = i
		}
	}
	return worst
}

var _ heap.Interface = (*priorityHeap)(nil)
