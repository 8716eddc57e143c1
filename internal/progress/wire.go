package progress

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// Action is the discriminator of outbound commands.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
	ActionPing        Action = "ping"
)

// Command is a client-to-server frame.
type Command struct {
	Action      Action      `json:"action"`
	ChannelType ChannelType `json:"channel_type,omitempty"`
	ID          *uuid.UUID  `json:"id,omitempty"`
}

func subscribeCommand(sub Subscription) Command {
	id := sub.ID
	return Command{Action: ActionSubscribe, ChannelType: sub.Channel, ID: &id}
}

func unsubscribeCommand(sub Subscription) Command {
	id := sub.ID
	return Command{Action: ActionUnsubscribe, ChannelType: sub.Channel, ID: &id}
}

func pingCommand() Command {
	return Command{Action: ActionPing}
}

// MessageType is the discriminator of inbound frames.
type MessageType string

const (
	MessageConnected    MessageType = "connected"
	MessageSubscribed   MessageType = "subscribed"
	MessageUnsubscribed MessageType = "unsubscribed"
	MessageProgress     MessageType = "progress"
	MessageError        MessageType = "error"
	MessagePong         MessageType = "pong"
)

// ServerMessage is a server-to-client frame.
type ServerMessage struct {
	MessageType MessageType     `json:"message_type"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ProgressEnvelope is the data of a progress frame. Sequence is per
// connection and only useful for diagnostics.
type ProgressEnvelope struct {
	ID       uuid.UUID `json:"id"`
	Event    Event     `json:"event"`
	UserID   uuid.UUID `json:"user_id"`
	Sequence uint64    `json:"sequence"`
}

const serverMessageSchema = `{
  "type": "object",
  "required": ["message_type"],
  "properties": {
    "message_type": {
      "enum": ["connected", "subscribed", "unsubscribed", "progress", "error", "pong"]
    },
    "timestamp": {"type": "string"}
  }
}`

const progressEnvelopeSchema = `{
  "type": "object",
  "required": ["id", "event", "sequence"],
  "properties": {
    "id": {"type": "string"},
    "user_id": {"type": "string"},
    "sequence": {"type": "integer", "minimum": 0},
    "event": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["upload", "analysis", "batch", "error", "complete"]}
      }
    }
  }
}`

var (
	serverMessageValidator    = mustSchema(serverMessageSchema)
	progressEnvelopeValidator = mustSchema(progressEnvelopeSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("progress: invalid built-in schema: %v", err))
	}
	return schema
}

func validate(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// DecodeServerMessage validates and decodes one inbound frame.
func DecodeServerMessage(raw []byte) (*ServerMessage, error) {
	if err := validate(serverMessageValidator, raw); err != nil {
		return nil, &ProtocolError{Reason: "invalid server message", Err: err}
	}
	var msg ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &ProtocolError{Reason: "invalid server message", Err: err}
	}
	return &msg, nil
}

// DecodeProgress decodes the data of a progress frame.
func DecodeProgress(data json.RawMessage) (*ProgressEnvelope, error) {
	if len(data) == 0 {
		return nil, &ProtocolError{Reason: "progress message without data"}
	}
	if err := validate(progressEnvelopeValidator, data); err != nil {
		return nil, &ProtocolError{Reason: "invalid progress payload", Err: err}
	}
	var env ProgressEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "invalid progress payload", Err: err}
	}
	return &env, nil
}
