package models

import "time"

// User represents a user as delivered by the backend roster endpoint.
// Presence fields are mutated in place by the presence tracker for the
// lifetime of a roster view.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName,omitempty"`
	Email       string     `json:"email,omitempty"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	IsOnline    bool       `json:"isOnline"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
}

// UserRef is the minimal sender reference embedded in a Message.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// Ref returns the message-embeddable reference for a user.
func (u *User) Ref() UserRef {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return UserRef{ID: u.ID, DisplayName: name}
}
