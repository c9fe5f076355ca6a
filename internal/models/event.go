package models

// Event types broadcast to live subscribers. Subscribers re-run the read
// path on receipt instead of patching local state; there is no replay log.
const (
	EventMessageInserted   = "message_inserted"
	EventMessageDeleted    = "message_deleted"
	EventReadStateAdvanced = "read_state_advanced"
)

// Event is the envelope written to websocket subscribers.
type Event struct {
	Type           string   `json:"type"`
	ConversationID int      `json:"conversation_id"`
	Message        *Message `json:"message,omitempty"`
	MessageID      int      `json:"message_id,omitempty"`
	UserID         int      `json:"user_id,omitempty"`
}
