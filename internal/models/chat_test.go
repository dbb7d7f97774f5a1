package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatMessageStatus_CanAdvanceTo(t *testing.T) {
	req := require.New(t)

	req.True(MessageStatusSent.CanAdvanceTo(MessageStatusDelivered))
	req.True(MessageStatusSent.CanAdvanceTo(MessageStatusRead))
	req.True(MessageStatusDelivered.CanAdvanceTo(MessageStatusRead))

	// Never backwards, never in place
	req.False(MessageStatusRead.CanAdvanceTo(MessageStatusDelivered))
	req.False(MessageStatusRead.CanAdvanceTo(MessageStatusSent))
	req.False(MessageStatusDelivered.CanAdvanceTo(MessageStatusSent))
	req.False(MessageStatusDelivered.CanAdvanceTo(MessageStatusDelivered))

	req.False(ChatMessageStatus("lost").CanAdvanceTo(MessageStatusRead))
	req.False(MessageStatusSent.CanAdvanceTo(ChatMessageStatus("")))
}

func TestChatMessageStatus_Predecessors(t *testing.T) {
	req := require.New(t)

	req.Empty(MessageStatusSent.Predecessors())
	req.Equal([]ChatMessageStatus{MessageStatusSent}, MessageStatusDelivered.Predecessors())
	req.Equal([]ChatMessageStatus{MessageStatusSent, MessageStatusDelivered}, MessageStatusRead.Predecessors())
}

func TestChatMessage_Participants(t *testing.T) {
	req := require.New(t)
	msg := ChatMessage{SenderID: "a", ReceiverID: "b"}

	req.True(msg.HasParticipants("a", "b"))
	req.True(msg.HasParticipants("b", "a"))
	req.False(msg.HasParticipants("a", "c"))
	req.Equal("b", msg.Peer("a"))
	req.Equal("a", msg.Peer("b"))
}
