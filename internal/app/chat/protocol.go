package chat

import (
	"encoding/json"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/req"
)

// EventType names an event of the websocket protocol.
type EventType string

// Client to server.
const (
	EventRegister EventType = "register"
	EventSend     EventType = "send"
	EventTyping   EventType = "typing"
	EventReadAck  EventType = "readAck"
)

// Server to client.
const (
	EventRegistered      EventType = "registered"
	EventHistory         EventType = "history"
	EventSendAck         EventType = "sendAck"
	EventMessageReceived EventType = "messageReceived"
	EventStatusUpdate    EventType = "statusUpdate"
	EventPresence        EventType = "presence"
	EventError           EventType = "error"
)

// Envelope is the frame written to clients.
type Envelope struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// Inbound is the frame read from clients before its payload is decoded.
type Inbound struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TempID  string          `json:"tempId,omitempty"`
}

type TypingSignal struct {
	IsTyping bool `json:"isTyping"`
}

type ReadAckPayload struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
}

type RegisteredPayload struct {
	UserID      string        `json:"userId"`
	DisplayName string        `json:"displayName"`
	AvatarRef   string        `json:"avatarRef,omitempty"`
	Online      []user.Public `json:"online"`
}

type HistoryPayload struct {
	Messages []Message `json:"messages"`
}

// SendAckPayload echoes the client's temporary id together with the canonical message.
type SendAckPayload struct {
	TempID  string  `json:"tempId,omitempty"`
	Message Message `json:"message"`
}

type MessageReceivedPayload struct {
	Message Message `json:"message"`
}

// StatusUpdatePayload reports a status change to a message's sender. When one update covers
// several messages, MessageIDs lists them in log order and MessageID is the newest.
type StatusUpdatePayload struct {
	MessageID  string   `json:"messageId"`
	MessageIDs []string `json:"messageIds,omitempty"`
	Status     Status   `json:"status"`
}

type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type PresencePayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
	Online      bool   `json:"online"`
	// LastSeenAt is a unix timestamp in milliseconds, set when Online is false.
	LastSeenAt int64 `json:"lastSeenAt,omitempty"`
}

// ErrorPayload rejects a single inbound event.
type ErrorPayload struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Event   EventType `json:"event,omitempty"`
	TempID  string    `json:"tempId,omitempty"`
}

// Command is a decoded inbound event, ready for the dispatcher.
type Command struct {
	Type   EventType
	TempID string

	Profile   user.Profile
	Content   Content
	IsTyping  bool
	MessageID string

	// Err rejects the command before it reaches any tracker. Registration is still
	// checked first so that an unregistered connection always sees NotRegistered.
	Err *errs.CustomError
}

// requiresSession reports whether the command is only valid on a registered connection.
func (c Command) requiresSession() bool {
	switch c.Type {
	case EventSend, EventTyping, EventReadAck:
		return true
	default:
		return false
	}
}

// DecodeCommand parses a raw client frame. Decoding failures are carried in Command.Err.
func DecodeCommand(raw []byte) Command {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Command{Err: errs.NewError(errs.ErrInvalidJSONFormat)}
	}

	cmd := Command{Type: in.Type, TempID: in.TempID}

	switch in.Type {
	case EventRegister:
		cmd.Err = req.DecodeJSON(in.Payload, &cmd.Profile)

	case EventSend:
		cmd.Err = req.DecodeJSON(in.Payload, &cmd.Content)

	case EventTyping:
		var signal TypingSignal
		cmd.Err = req.DecodeJSON(in.Payload, &signal)
		cmd.IsTyping = signal.IsTyping

	case EventReadAck:
		var ack ReadAckPayload
		cmd.Err = req.DecodeJSON(in.Payload, &ack)
		cmd.MessageID = ack.MessageID

	default:
		cmd.Err = errs.NewError(errs.ErrUnsupportedEvent, string(in.Type))
	}

	return cmd
}
