package models

import (
	"encoding/json"
	"fmt"
)

// Event names carried on the realtime transport.
const (
	EventJoinRoom  = "joinRoom"
	EventLeaveRoom = "leaveRoom"

	EventNewMessage     = "newMessage"
	EventMessageDeleted = "messageDeleted"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventMessageRead    = "message_read"

	EventChurchMessage        = "newIglesiaMessage"
	EventChurchMessageDeleted = "iglesiaMessageDeleted"
	EventUserTypingStart      = "user_typing_start"
	EventUserTypingStop       = "user_typing_stop"

	EventMembershipRequested = "nuevaSolicitudIglesia"
	EventMembershipProcessed = "solicitudIglesiaProcesada"

	EventNewComment     = "newComment"
	EventCommentDeleted = "commentDeleted"

	EventError = "error"
)

// Event is the frame exchanged over the websocket in both directions.
type Event struct {
	// Name is the event name used for dispatch
	Name string `json:"event"`

	// Room scopes who receives the event
	Room string `json:"room,omitempty"`

	// Payload is the event-specific body
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event.
func NewEvent(name, room string, payload interface{}) (Event, error) {
	ev := Event{Name: name, Room: room}
	if payload == nil {
		return ev, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ev, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	ev.Payload = raw
	return ev, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.Name)
	}
	return json.Unmarshal(e.Payload, v)
}

// TypingPayload is carried by the typing events
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// DeletedPayload is carried by the deletion events
type DeletedPayload struct {
	ConversationID string `json:"conversation_id,omitempty"`
	PostID         string `json:"post_id,omitempty"`
	ID             string `json:"id"`
}

// Room names.

func ConversationRoom(id string) string { return "conversation:" + id }
func ChurchRoom(id string) string       { return "church:" + id }
func PostRoom(id string) string         { return "post:" + id }
func UserRoom(id string) string         { return "user:" + id }
