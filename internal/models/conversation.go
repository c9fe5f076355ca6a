package models

import "time"

// Conversation is a private messaging context between exactly two users.
// UserMin/UserMax hold the participant pair in canonical order so the
// storage layer can enforce pair uniqueness with a single constraint.
type Conversation struct {
	ID        int       `db:"id" json:"id"`
	UserMin   int       `db:"user_min" json:"user_min"`
	UserMax   int       `db:"user_max" json:"user_max"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Participant is a user's membership record in a conversation. LastReadAt is
// the participant's private read cursor; only the mark-read operation for
// that user may move it.
type Participant struct {
	ConversationID int        `db:"conversation_id" json:"conversation_id"`
	UserID         int        `db:"user_id" json:"user_id"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// PeerID returns the other participant's user id.
func (c Conversation) PeerID(userID int) int {
	if c.UserMin == userID {
		return c.UserMax
	}
	return c.UserMin
}

// HasParticipant reports whether the user belongs to the conversation.
func (c Conversation) HasParticipant(userID int) bool {
	return c.UserMin == userID || c.UserMax == userID
}

// ConversationSummary is the per-conversation row of the list view: the peer,
// the newest message if any, and the requester's derived unread count.
type ConversationSummary struct {
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	PeerID         int       `db:"peer_id" json:"peer_id"`
	UnreadCount    int       `db:"unread_count" json:"unread_count"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`

	LastMessage *Message `json:"last_message,omitempty"`
}
