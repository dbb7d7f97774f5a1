package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatMessageStatus represents the delivery/read status of a direct message.
// Valid values: "sent", "delivered", "read". Statuses only move forward.
type ChatMessageStatus string

const (
	MessageStatusSent      ChatMessageStatus = "sent"
	MessageStatusDelivered ChatMessageStatus = "delivered"
	MessageStatusRead      ChatMessageStatus = "read"
)

var statusRank = map[ChatMessageStatus]int{
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// Valid reports whether s is one of the known statuses.
func (s ChatMessageStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s ChatMessageStatus) CanAdvanceTo(next ChatMessageStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// Predecessors returns the statuses from which s may be reached.
func (s ChatMessageStatus) Predecessors() []ChatMessageStatus {
	var out []ChatMessageStatus
	for _, st := range []ChatMessageStatus{MessageStatusSent, MessageStatusDelivered, MessageStatusRead} {
		if st.CanAdvanceTo(s) {
			out = append(out, st)
		}
	}
	return out
}

// ChatMessage is stored in MongoDB and represents a single two-party message.
// One document per message; history for a pair is queried in both directions.
type ChatMessage struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SenderID    string             `bson:"sender_id" json:"sender"`
	ReceiverID  string             `bson:"receiver_id" json:"receiver"`
	Content     string             `bson:"content" json:"content"`
	Status      ChatMessageStatus  `bson:"status" json:"status"`
	CreatedAt   time.Time          `bson:"created_at" json:"createdAt"`
	ClientToken string             `bson:"client_token,omitempty" json:"clientToken,omitempty"`
}

// HasParticipants reports whether the message belongs to the unordered pair {a, b}.
func (m *ChatMessage) HasParticipants(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Peer returns the other participant of the message as seen from userID.
func (m *ChatMessage) Peer(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// MessageStatusUpdate is the payload of a message-status-update event.
type MessageStatusUpdate struct {
	MessageID string            `json:"messageId"`
	Status    ChatMessageStatus `json:"status"`
}

// LastMessageTime is one roster entry for last-activity sorting.
type LastMessageTime struct {
	UserID          string     `json:"userId"`
	LastMessageTime *time.Time `json:"lastMessageTime"`
}
