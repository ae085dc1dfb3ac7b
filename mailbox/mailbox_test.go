package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

func msg(id, sender, recipient string, priority model.Priority, mtype model.MessageType) *model.Message {
	return &model.Message{
		ID:        id,
		Sender:    sender,
		Recipient: model.AgentRecipient(recipient),
		Priority:  priority,
		Type:      mtype,
		CreatedAt: time.Now(),
	}
}

func TestHub_FIFOWithinPriority(t *testing.T) {
	h := New(10, RejectNew, nil)
	h.Register("ag_1")
	ctx := context.Background()

	require.NoError(t, h.Send(ctx, msg("m1", "s", "ag_1", model.PriorityNormal, model.TypeRequest)))
	require.NoError(t, h.Send(ctx, msg("m2", "s", "ag_1", model.PriorityNormal, model.TypeRequest)))
	require.NoError(t, h.Send(ctx, msg("m3", "s", "ag_1", model.PriorityNormal, model.TypeRequest)))

	for _, want := range []string{"m1", "m2", "m3"} {
		got, err := h.Receive(ctx, "ag_1", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, want, got.ID)
	}
}

func TestHub_PriorityOrdering(t *testing.T) {
	h := New(10, RejectNew, nil)
	h.Register("ag_1")
	ctx := context.Background()

	require.NoError(t, h.Send(ctx, msg("low", "s", "ag_1", model.PriorityLow, model.TypeRequest)))
	require.NoError(t, h.Send(ctx, msg("crit", "s", "ag_1", model.PriorityCritical, model.TypeRequest)))
	require.NoError(t, h.Send(ctx, msg("normal", "s", "ag_1", model.PriorityNormal, model.TypeRequest)))

	order := []string{}
	for i := 0; i < 3; i++ {
		got, err := h.Receive(ctx, "ag_1", time.Time{})
		require.NoError(t, err)
		order = append(order, got.ID)
	}
	assert.Equal(t, []string{"crit", "normal", "low"}, order)
}

func TestHub_HeartbeatAlwaysTopPriority(t *testing.T) {
	h := New(10, RejectNew, nil)
	h.Register("ag_1")
	ctx := context.Background()

	require.NoError(t, h.Send(ctx, msg("crit", "s", "ag_1", model.PriorityCritical, model.TypeRequest)))
	require.NoError(t, h.Send(ctx, msg("hb", "s", "ag_1", model.PriorityLow, model.TypeHeartbeat)))

	got, err := h.Receive(ctx, "ag_1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "hb", got.ID)
}

func TestHub_RejectNewWhenFull(t *testing.T) {
	h := New(1, RejectNew, nil)
	h.Register("ag_1")
	ctx := context.Background()

	require.NoError(t, h.Send(ctx, msg("m1", "s", "ag_1", model.PriorityNormal, model.TypeRequest)))
	err := h.Send(ctx, msg("m2", "s", "ag_1", model.PriorityNormal, model.TypeRequest))
	assert.True(t, coorderr.Is(err, coorderr.CodeQueueFull))
}

func TestHub_ShedLowEvictsLowestPriority(t *testing.T) {
	h := New(1, ShedLow, nil)
	h.Register("ag_1")
	ctx := context.Background()

	require.NoError(t, h.Send(ctx, msg("low", "s", "ag_1", model.PriorityLow, model.TypeRequest)))
	require.NoError(t, h.Send(ctx, msg("high", "s", "ag_1", model.PriorityHigh, model.TypeRequest)))

	got, err := h.Receive(ctx, "ag_1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "high", got.ID)
	assert.Equal(t, 0, h.Depth("ag_1"))
}

func TestHub_DropOldestLowerEvictsLowerPriority(t *testing.T) {
	h := New(1, DropOldestLower, nil)
	h.Register("ag_1")
	ctx := context.Background()

	require.NoError(t, h.Send(ctx, msg("low", "s", "ag_1", model.PriorityLow, model.TypeRequest)))
	require.NoError(t, h.Send(ctx, msg("high", "s", "ag_1", model.PriorityHigh, model.TypeRequest)))

	got, err := h.Receive(ctx, "ag_1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "high", got.ID)
}

func TestHub_DropOldestLowerRejectsWhenNoLowerPriorityEntry(t *testing.T) {
	h := New(1, DropOldestLower, nil)
	h.Register("ag_1")
	ctx := context.Background()

	require.NoError(t, h.Send(ctx, msg("high", "s", "ag_1", model.PriorityHigh, model.TypeRequest)))
	err := h.Send(ctx, msg("low", "s", "ag_1", model.PriorityLow, model.TypeRequest))
	assert.True(t, coorderr.Is(err, coorderr.CodeQueueFull))
}

func TestHub_Send_UnknownRecipient(t *testing.T) {
	h := New(10, RejectNew, nil)
	err := h.Send(context.Background(), msg("m1", "s", "ag_ghost", model.PriorityNormal, model.TypeRequest))
	assert.True(t, coorderr.Is(err, coorderr.CodeUnknownRecipient))
}

func TestHub_Receive_Timeout(t *testing.T) {
	h := New(10, RejectNew, nil)
	h.Register("ag_1")

	_, err := h.Receive(context.Background(), "ag_1", time.Now().Add(20*time.Millisecond))
	assert.True(t, coorderr.Is(err, coorderr.CodeTimeout))
}

func TestHub_Receive_CancelDoesNotConsume(t *testing.T) {
	h := New(10, RejectNew, nil)
	h.Register("ag_1")
	ctx := context.Background()
	require.NoError(t, h.Send(ctx, msg("m1", "s", "ag_1", model.PriorityNormal, model.TypeRequest)))

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := h.Receive(cancelCtx, "ag_1", time.Time{})
	assert.True(t, coorderr.Is(err, coorderr.CodeCancelled))

	// message must still be there for a subsequent receive
	got, err := h.Receive(ctx, "ag_1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)
}

func TestHub_Receive_UnblocksOnSend(t *testing.T) {
	h := New(10, RejectNew, nil)
	h.Register("ag_1")
	ctx := context.Background()

	result := make(chan *model.Message, 1)
	go func() {
		got, err := h.Receive(ctx, "ag_1", time.Now().Add(2*time.Second))
		if err == nil {
			result <- got
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.Send(ctx, msg("m1", "s", "ag_1", model.PriorityNormal, model.TypeRequest)))

	select {
	case got := <-result:
		assert.Equal(t, "m1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("receive did not unblock on send")
	}
}

func TestHub_Broadcast(t *testing.T) {
	h := New(10, RejectNew, nil)
	h.Register("ag_1")
	h.Register("ag_2")
	ctx := context.Background()

	errs := h.Broadcast(ctx, nil, msg("bcast", "s", "", model.PriorityNormal, model.TypeNotification))
	assert.Empty(t, errs)

	for _, id := range []string{"ag_1", "ag_2"} {
		got, err := h.Receive(ctx, id, time.Time{})
		require.NoError(t, err)
		assert.Equal(t, "bcast", got.ID)
	}
}
