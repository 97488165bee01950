package conversation

import "github.com/adi-253/fellowship/internal/models"

// EventSet names the realtime events and room a conversation kind uses.
type EventSet struct {
	Message     string
	Deleted     string
	TypingStart string
	TypingStop  string
	Read        string

	// Room returns the realtime room of a conversation id
	Room func(conversationID string) string
}

// DirectEvents drives one-to-one chats.
var DirectEvents = EventSet{
	Message:     models.EventNewMessage,
	Deleted:     models.EventMessageDeleted,
	TypingStart: models.EventTypingStart,
	TypingStop:  models.EventTypingStop,
	Read:        models.EventMessageRead,
	Room:        models.ConversationRoom,
}

// ChurchEvents drives a church's group chat. The conversation id is the
// church id.
var ChurchEvents = EventSet{
	Message:     models.EventChurchMessage,
	Deleted:     models.EventChurchMessageDeleted,
	TypingStart: models.EventUserTypingStart,
	TypingStop:  models.EventUserTypingStop,
	Read:        models.EventMessageRead,
	Room:        models.ChurchRoom,
}
