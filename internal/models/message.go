package models

import "time"

// Message is a chat message as held by the conversation reconciler and as
// exchanged with the backend. The ID may be a client-generated temporary id
// (optimistic send) or a server-assigned one; ClientMsgID carries the
// correlation id that lets a server echo be matched back to the optimistic
// entry it confirms.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId,omitempty"`
	Sender         UserRef   `json:"sender"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
	ReadBy         []string  `json:"readBy,omitempty"`
	ClientMsgID    string    `json:"clientMsgId,omitempty"`
}

// ReadByUser reports whether the given user id is recorded in ReadBy.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
