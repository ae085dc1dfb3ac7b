// Package transport carries the coordination core's wire envelope between
// out-of-process coordinators over WebSocket. It is optional: the facade and
// CLI work entirely in-process without it, and nothing else in this module
// depends on this package.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/rhema-dev/coordination/codec"
	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

// Core is the narrow view of the Coordinator Facade a WebSocket relay
// needs: enqueue an inbound message, and drain an agent's mailbox for
// delivery to its remote connection.
type Core interface {
	SendMessage(ctx context.Context, msg *model.Message) error
	ReceiveMessage(ctx context.Context, agentID string, deadline time.Time) (*model.Message, error)
}

// Server accepts one WebSocket connection per agent and relays the C2
// envelope in both directions: frames read from the socket are decoded and
// handed to Core.SendMessage; messages drained from the agent's mailbox via
// Core.ReceiveMessage are encoded and written back.
type Server struct {
	core   Core
	codec  *codec.Codec
	logger *zap.Logger

	pollInterval time.Duration
}

// NewServer builds a Server. codec must be the same configuration (same
// compression/encryption) the connecting clients use.
func NewServer(core Core, cdc *codec.Codec, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{core: core, codec: cdc, logger: logger.With(zap.String("component", "ws_transport_server")), pollInterval: time.Second}
}

// Handler upgrades the request to a WebSocket and relays traffic for
// agentID until the connection closes or ctx is cancelled. A real deployment
// wraps this in its own routing/auth layer and extracts agentID from the
// authenticated request.
func (s *Server) Handler(agentID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket accept failed", zap.Error(err), zap.String("agent_id", agentID))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "closing")

		ctx := r.Context()
		errc := make(chan error, 2)
		go s.readLoop(ctx, conn, errc)
		go s.writeLoop(ctx, conn, agentID, errc)

		err = <-errc
		if err != nil && ctx.Err() == nil {
			s.logger.Debug("websocket relay stopped", zap.Error(err), zap.String("agent_id", agentID))
		}
		conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, errc chan<- error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			errc <- err
			return
		}
		msg, err := s.codec.DecodeMessage(data)
		if err != nil {
			s.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		if err := s.core.SendMessage(ctx, msg); err != nil && coorderr.CodeOf(err) == coorderr.CodeInvariantViolation {
			errc <- err
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, agentID string, errc chan<- error) {
	for {
		deadline := time.Now().Add(s.pollInterval)
		msg, err := s.core.ReceiveMessage(ctx, agentID, deadline)
		if err != nil {
			if coorderr.Is(err, coorderr.CodeTimeout) {
				continue
			}
			errc <- err
			return
		}
		raw, err := s.codec.EncodeMessage(msg)
		if err != nil {
			s.logger.Warn("dropping unencodable message", zap.Error(err), zap.String("message_id", msg.ID))
			continue
		}
		if err := conn.Write(ctx, websocket.MessageBinary, raw); err != nil {
			errc <- err
			return
		}
	}
}

// Client dials a remote Server and exposes envelope send/receive over the
// connection, for an out-of-process agent that wants to participate in a
// coordination core it doesn't run in-process.
type Client struct {
	conn  *websocket.Conn
	codec *codec.Codec
}

// Dial connects to a Server's Handler endpoint at url.
func Dial(ctx context.Context, url string, cdc *codec.Codec) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "websocket dial").WithCause(err)
	}
	return &Client{conn: conn, codec: cdc}, nil
}

// Send encodes and writes msg to the connection.
func (c *Client) Send(ctx context.Context, msg *model.Message) error {
	raw, err := c.codec.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageBinary, raw)
}

// Recv blocks until a message arrives on the connection.
func (c *Client) Recv(ctx context.Context) (*model.Message, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, coorderr.New(coorderr.CodeUnsupportedEnvelope, "websocket read").WithCause(err)
	}
	return c.codec.DecodeMessage(data)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}
