package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhema-dev/coordination/codec"
	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

// fakeCore is an in-memory Core: SendMessage appends to inbound, and
// ReceiveMessage drains a single outbound queue fed directly by the test.
type fakeCore struct {
	mu       sync.Mutex
	inbound  []*model.Message
	outbound chan *model.Message
}

func newFakeCore() *fakeCore {
	return &fakeCore{outbound: make(chan *model.Message, 8)}
}

func (f *fakeCore) SendMessage(_ context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, msg)
	return nil
}

func (f *fakeCore) ReceiveMessage(ctx context.Context, _ string, deadline time.Time) (*model.Message, error) {
	select {
	case msg := <-f.outbound:
		return msg, nil
	case <-time.After(time.Until(deadline)):
		return nil, coorderr.New(coorderr.CodeTimeout, "no message before deadline")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestServerClient_RoundTrip(t *testing.T) {
	cdc, err := codec.New()
	require.NoError(t, err)
	core := newFakeCore()
	server := NewServer(core, cdc, nil)
	server.pollInterval = 50 * time.Millisecond

	wrapped := Chain(server.Handler("agent-1"), RequestID(), SecurityHeaders())
	srv := httptest.NewServer(wrapped)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, wsURL(srv), cdc)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	sent := &model.Message{
		ID:        "msg-1",
		Sender:    "agent-1",
		Recipient: model.AgentRecipient("agent-2"),
		Type:      model.TypeNotification,
		Payload:   []byte(`{"hello":"world"}`),
		CreatedAt: time.Now(),
	}
	require.NoError(t, client.Send(ctx, sent))

	require.Eventually(t, func() bool {
		core.mu.Lock()
		defer core.mu.Unlock()
		return len(core.inbound) == 1
	}, 2*time.Second, 10*time.Millisecond)

	core.mu.Lock()
	got := core.inbound[0]
	core.mu.Unlock()
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Sender, got.Sender)
	assert.Equal(t, sent.Payload, got.Payload)

	outbound := &model.Message{
		ID:        "msg-2",
		Sender:    "agent-2",
		Recipient: model.AgentRecipient("agent-1"),
		Type:      model.TypeNotification,
		Payload:   []byte(`{"reply":true}`),
		CreatedAt: time.Now(),
	}
	core.outbound <- outbound

	received, err := client.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, outbound.ID, received.ID)
	assert.Equal(t, outbound.Payload, received.Payload)
}
