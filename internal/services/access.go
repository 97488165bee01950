package services

import (
	"strings"

	"github.com/adi-253/fellowship/internal/models"
)

// RoomAccess decides which realtime rooms a user may subscribe to.
//
// Conversation rooms are open to their participants, church rooms to members
// who may view the church, and post rooms to everybody.
type RoomAccess struct {
	messages *MessageService
	churches *MembershipService
}

// NewRoomAccess creates a RoomAccess. A nil service leaves its rooms closed.
func NewRoomAccess(messages *MessageService, churches *MembershipService) *RoomAccess {
	return &RoomAccess{messages: messages, churches: churches}
}

// CanJoin reports whether userID may join room.
func (a *RoomAccess) CanJoin(userID, room string) bool {
	kind, id, ok := strings.Cut(room, ":")
	if !ok || id == "" || userID == "" {
		return false
	}

	switch kind {
	case "post":
		return true
	case "user":
		return id == userID
	case "church":
		return a.churches != nil && a.churches.Can(id, userID, models.PermViewChurch)
	case "conversation":
		if a.messages == nil {
			return false
		}
		conv, err := a.messages.GetConversation(id)
		if err != nil {
			return false
		}
		return contains(conv.Participants, userID)
	default:
		return false
	}
}
