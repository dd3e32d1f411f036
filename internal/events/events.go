// Package events defines the named events carried over the realtime socket
// and their payload shapes. Both the client packages and the demo server
// speak exactly this set.
package events

import "chatclient-go/internal/models"

// Event names. The colon-separated form matches what the backend emits.
const (
	MessageNew  = "message:new"
	MessageSend = "message:send"
	TypingStart = "typing:start"
	TypingStop  = "typing:stop"
	UserOnline  = "user:online"
	UserOffline = "user:offline"
)

// SendMessage is the payload of a client-emitted message:send.
type SendMessage struct {
	Text           string `json:"text"`
	ReceiverID     string `json:"receiverId"`
	ConversationID string `json:"conversationId,omitempty"`
	ClientMsgID    string `json:"clientMsgId,omitempty"`
}

// NewMessage is the payload of a server-pushed message:new.
type NewMessage struct {
	Message models.Message `json:"message"`
}

// Typing is the payload of typing:start / typing:stop in both directions.
// UserID is set on server-pushed events, ReceiverID on client-emitted ones.
type Typing struct {
	UserID         string `json:"userId,omitempty"`
	ReceiverID     string `json:"receiverId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Presence is the payload of user:online / user:offline.
type Presence struct {
	UserID string `json:"userId"`
}
