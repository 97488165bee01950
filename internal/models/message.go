package models

import "time"

// MessageStatus tracks the delivery state of a message as seen by the sender.
type MessageStatus string

const (
	// StatusOptimistic marks a message created locally and not yet acknowledged
	StatusOptimistic MessageStatus = "optimistic"

	// StatusConfirmed marks a message acknowledged by the server
	StatusConfirmed MessageStatus = "confirmed"

	// StatusFailed marks a message whose send failed
	StatusFailed MessageStatus = "failed"
)

// ConversationKind distinguishes direct chats from church chats.
type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindChurch ConversationKind = "church"
)

// Message represents a chat message in a conversation.
type Message struct {
	// ID is the server-assigned identifier. Optimistic messages carry a
	// temporary "tmp-" identifier until confirmed.
	ID string `json:"id"`

	// ConversationID is the owning conversation. Empty for the first message
	// of a direct conversation that does not exist yet.
	ConversationID string `json:"conversation_id,omitempty"`

	// SenderID is the author of the message
	SenderID string `json:"sender_id"`

	// RecipientID identifies the counterpart when ConversationID is empty
	RecipientID string `json:"recipient_id,omitempty"`

	// Sender holds expanded author data when the backend provides it
	Sender *UserSummary `json:"sender,omitempty"`

	// Content is the text body
	Content string `json:"content"`

	// Attachment is an optional uploaded file
	Attachment *Attachment `json:"attachment,omitempty"`

	// ClientToken is the client-generated idempotency token of the send
	ClientToken string `json:"client_token,omitempty"`

	// Status is only meaningful on the sending side
	Status MessageStatus `json:"status,omitempty"`

	// Read is set once the recipient has acknowledged the message
	Read bool `json:"read"`

	// CreatedAt is when the message was sent
	CreatedAt time.Time `json:"created_at"`
}

// Attachment describes a file uploaded alongside a message.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// Conversation is a chat room holding messages.
type Conversation struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Participants []string         `json:"participants,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActiveAt time.Time        `json:"last_active_at"`
}

// SendMessageRequest is the request body for sending a message
type SendMessageRequest struct {
	ConversationID string      `json:"conversation_id,omitempty"`
	RecipientID    string      `json:"recipient_id,omitempty"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	ClientToken    string      `json:"client_token,omitempty"`
}

// GetMessagesResponse is the response for fetching messages
type GetMessagesResponse struct {
	Messages []Message `json:"messages"`
}

// ReadReceipt acknowledges that Reader has seen a conversation up to a message.
type ReadReceipt struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	LastMessageID  string    `json:"last_message_id,omitempty"`
	ReadAt         time.Time `json:"read_at"`
}
