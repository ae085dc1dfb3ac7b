package codec

import (
	"encoding/json"

	"github.com/rhema-dev/coordination/coorderr"
	"github.com/rhema-dev/coordination/model"
)

// wireMessage is the JSON-serializable projection of model.Message. Payload
// is carried as raw bytes inside the JSON body; compression/encryption
// apply to the whole serialized wireMessage, not to Payload alone, so the
// envelope protects message metadata (sender, recipient, priority) as well
// as the application payload.
type wireMessage struct {
	ID            string            `json:"id"`
	Sender        string            `json:"sender"`
	RecipientKind model.RecipientKind `json:"recipient_kind"`
	RecipientID   string            `json:"recipient_id,omitempty"`
	Type          model.MessageType `json:"type"`
	CustomType    string            `json:"custom_type,omitempty"`
	Priority      model.Priority    `json:"priority"`
	Payload       []byte            `json:"payload"`
	ContentType   string            `json:"content_type,omitempty"`
	CreatedAtUnix int64             `json:"created_at_unix_nano"`
	TTLNanos      int64             `json:"ttl_nanos,omitempty"`
	InReplyTo     string            `json:"in_reply_to,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
}

// EncodeMessage serializes msg and wraps it in a wire envelope under the
// codec's configured compression/encryption.
func (c *Codec) EncodeMessage(msg *model.Message) ([]byte, error) {
	wm := wireMessage{
		ID:            msg.ID,
		Sender:        msg.Sender,
		RecipientKind: msg.Recipient.Kind,
		RecipientID:   msg.Recipient.Target,
		Type:          msg.Type,
		CustomType:    msg.CustomType,
		Priority:      msg.Priority,
		Payload:       msg.Payload,
		ContentType:   msg.ContentType,
		CreatedAtUnix: msg.CreatedAt.UnixNano(),
		TTLNanos:      int64(msg.TTL),
		InReplyTo:     msg.InReplyTo,
		CorrelationID: msg.CorrelationID,
		SessionID:     msg.SessionID,
	}
	plain, err := json.Marshal(wm)
	if err != nil {
		return nil, coorderr.New(coorderr.CodeInvalidSpec, "marshal message").WithCause(err)
	}
	return c.Encode(plain)
}

// DecodeMessage reverses EncodeMessage.
func (c *Codec) DecodeMessage(raw []byte) (*model.Message, error) {
	plain, err := c.Decode(raw)
	if err != nil {
		return nil, err
	}
	var wm wireMessage
	if err := json.Unmarshal(plain, &wm); err != nil {
		return nil, coorderr.New(coorderr.CodeInvalidSpec, "unmarshal message").WithCause(err)
	}
	return &model.Message{
		ID:     wm.ID,
		Sender: wm.Sender,
		Recipient: model.Recipient{
			Kind:   wm.RecipientKind,
			Target: wm.RecipientID,
		},
		Type:          wm.Type,
		CustomType:    wm.CustomType,
		Priority:      wm.Priority,
		Payload:       wm.Payload,
		ContentType:   wm.ContentType,
		CreatedAt:     unixNanoToTime(wm.CreatedAtUnix),
		TTL:           durationFromNanos(wm.TTLNanos),
		InReplyTo:     wm.InReplyTo,
		CorrelationID: wm.CorrelationID,
		SessionID:     wm.SessionID,
	}, nil
}
