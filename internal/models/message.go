package models

import "time"

// Message is one entry of a conversation's append-only log. Order within a
// conversation is (CreatedAt, ID) ascending. IsRead is informational only;
// authoritative unread state is derived from the participant's read cursor.
type Message struct {
	ID             int       `db:"id" json:"id"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	IsRead         bool      `db:"is_read" json:"is_read"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
