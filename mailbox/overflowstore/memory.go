package overflowstore

import (
	"context"
	"sync"
	"time"

	"github.com/rhema-dev/coordination/model"
)

// Memory is an in-process OverflowStore, useful for tests and for operators
// who only need drop visibility within the current process lifetime.
type Memory struct {
	mu      sync.Mutex
	records map[string][]Record
}

// NewMemory returns an empty in-process overflow store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]Record)}
}

func (m *Memory) RecordDropped(_ context.Context, recipientID string, msg *model.Message, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recipientID] = append(m.records[recipientID], Record{
		RecipientID: recipientID,
		MessageID:   msg.ID,
		Sender:      msg.Sender,
		Reason:      reason,
		DroppedAt:   time.Now().UTC(),
		Payload:     msg.Payload,
	})
	return nil
}

// Replay returns every recorded drop for recipientID, oldest first.
func (m *Memory) Replay(recipientID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records[recipientID]))
	copy(out, m.records[recipientID])
	return out
}
