package ws

import (
	"testing"

	"dm-service/internal/models"
)

func TestHubAddAndRemoveConversationClient(t *testing.T) {
	hub := NewHub()

	hub.AddConversationClient(1, nil, ConnInfo{ConnID: "a"})
	if len(hub.conversationRooms) != 1 {
		t.Fatalf("expected conversation room to be created")
	}
	if len(hub.convConnInfo[1]) != 1 {
		t.Fatalf("expected conn info to be tracked")
	}

	hub.RemoveConversationClient(1, nil)
	if len(hub.conversationRooms) != 0 {
		t.Fatalf("expected conversation room to be removed")
	}
	if len(hub.convConnInfo) != 0 {
		t.Fatalf("expected conn info to be removed")
	}
}

func TestHubAddAndRemoveInboxClient(t *testing.T) {
	hub := NewHub()

	hub.AddInboxClient(2, nil, ConnInfo{ConnID: "b"})
	if len(hub.inboxRooms) != 1 {
		t.Fatalf("expected inbox room to be created")
	}

	hub.RemoveInboxClient(2, nil)
	if len(hub.inboxRooms) != 0 {
		t.Fatalf("expected inbox room to be removed")
	}
}

func TestHubRemoveUnknownClient(t *testing.T) {
	hub := NewHub()

	hub.RemoveConversationClient(9, nil)
	hub.RemoveInboxClient(9, nil)

	if len(hub.conversationRooms) != 0 || len(hub.inboxRooms) != 0 {
		t.Fatalf("expected hub to stay empty")
	}
}

func TestHubBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub()

	// no subscribers means no delivery and no error
	hub.Broadcast(1, []int{1, 2}, models.Event{Type: models.EventMessageInserted, ConversationID: 1})
}
