package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AnshRaj112/circles-backend/internal/models"
)

// Client -> server events.
const (
	EventJoin        = "join"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
	EventSendMessage = "send-message"
	EventMessageRead = "message-read"
)

// Server -> client events.
const (
	EventUserStatusChange    = "user-status-change"
	EventReceiveMessage      = "receive-message"
	EventMessageStatusUpdate = "message-status-update"
	EventMessageError        = "message-error"
)

// Event is one frame on the realtime channel: {"event": name, "data": payload}.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data,omitempty"`
}

// InboundEvent is a client frame whose payload is decoded per event name.
type InboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TypingPayload is typing-start/typing-stop in both directions: clients name the
// receiver, the server names the typing user.
type TypingPayload struct {
	Receiver string `json:"receiver,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

// SendMessagePayload is the body of send-message.
type SendMessagePayload struct {
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	Content     string `json:"content"`
	ClientToken string `json:"clientToken,omitempty"`
}

// ErrorPayload is the body of message-error.
type ErrorPayload struct {
	Error       string `json:"error"`
	ClientToken string `json:"clientToken,omitempty"`
}

// DecodeInbound parses a raw client frame.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return InboundEvent{}, fmt.Errorf("decode event: %w", err)
	}
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return InboundEvent{}, fmt.Errorf("decode event: missing event name")
	}
	return ev, nil
}

// EncodeEvent renders an outbound frame once so it can be fanned out to many connections.
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// decodeID accepts either a bare JSON string ("abc") or an object carrying the
// id under key ({"userId": "abc"}).
func decodeID(data json.RawMessage, key string) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", fmt.Errorf("missing %s", key)
	}

	var id string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &id); err != nil {
			return "", fmt.Errorf("invalid %s: %w", key, err)
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("invalid %s: %w", key, err)
		}
		raw, ok := obj[key]
		if !ok {
			return "", fmt.Errorf("missing %s", key)
		}
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return id, nil
}

func presenceEvent(change models.PresenceChange) Event {
	return Event{Name: EventUserStatusChange, Data: change}
}

func statusUpdateEvent(messageID string, status models.ChatMessageStatus) Event {
	return Event{Name: EventMessageStatusUpdate, Data: models.MessageStatusUpdate{MessageID: messageID, Status: status}}
}

func errorEvent(msg, clientToken string) Event {
	return Event{Name: EventMessageError, Data: ErrorPayload{Error: msg, ClientToken: clientToken}}
}
