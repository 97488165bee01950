package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/models"
)

// ChatAuthorizer decides whether a user may post in a church conversation.
type ChatAuthorizer interface {
	Can(churchID, userID string, perm models.Permission) bool
}

// MessageService handles message storage and retrieval.
// Uses in-memory storage; conversations live as long as the process.
type MessageService struct {
	// messages stores messages per conversation: conversationID -> []Message
	messages      map[string][]models.Message
	conversations map[string]*models.Conversation

	// direct maps a sorted participant pair to its conversation
	direct map[string]string

	// tokens maps sender + client token to the message it produced
	tokens map[string]string

	mu sync.RWMutex

	publisher Publisher
	authz     ChatAuthorizer
	log       zerolog.Logger
	now       func() time.Time
}

// NewMessageService creates a new MessageService instance
func NewMessageService(pub Publisher, log zerolog.Logger) *MessageService {
	return &MessageService{
		messages:      make(map[string][]models.Message),
		conversations: make(map[string]*models.Conversation),
		direct:        make(map[string]string),
		tokens:        make(map[string]string),
		publisher:     pub,
		log:           log.With().Str("component", "messages").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetAuthorizer installs the permission check for church conversations.
func (s *MessageService) SetAuthorizer(a ChatAuthorizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authz = a
}

// OpenChurchConversation returns the chat of a church, creating it on first use.
// The conversation shares the church id.
func (s *MessageService) OpenChurchConversation(churchID string) *models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.conversations[churchID]; ok {
		return conv
	}
	now := s.now()
	conv := &models.Conversation{ID: churchID, Kind: models.KindChurch, CreatedAt: now, LastActiveAt: now}
	s.conversations[churchID] = conv
	return conv
}

// GetConversation returns a copy of a conversation.
func (s *MessageService) GetConversation(id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	cp := *conv
	cp.Participants = append([]string(nil), conv.Participants...)
	return &cp, nil
}

// RoomFor returns the realtime room of a conversation.
func RoomFor(conv *models.Conversation) string {
	if conv.Kind == models.KindChurch {
		return models.ChurchRoom(conv.ID)
	}
	return models.ConversationRoom(conv.ID)
}

// SendMessage stores a message and announces it to the conversation room.
//
// A repeated client token from the same sender returns the message stored by
// the first call and reports created=false; nothing is broadcast again.
// When ConversationID is empty, the direct conversation between the sender
// and RecipientID is found or created.
func (s *MessageService) SendMessage(req models.SendMessageRequest) (*models.Message, bool, error) {
	req.SenderID = strings.TrimSpace(req.SenderID)
	req.Content = strings.TrimSpace(req.Content)
	if req.SenderID == "" {
		return nil, false, fmt.Errorf("sender_id is required: %w", ErrInvalidArgument)
	}
	if req.Content == "" && req.Attachment == nil {
		return nil, false, fmt.Errorf("content or attachment is required: %w", ErrInvalidArgument)
	}
	if req.ConversationID == "" && req.RecipientID == "" {
		return nil, false, fmt.Errorf("conversation_id or recipient_id is required: %w", ErrInvalidArgument)
	}
	if req.ConversationID == "" && req.RecipientID == req.SenderID {
		return nil, false, fmt.Errorf("cannot message yourself: %w", ErrInvalidArgument)
	}

	s.mu.Lock()

	tokenKey := ""
	if req.ClientToken != "" {
		tokenKey = req.SenderID + "\x00" + req.ClientToken
		if id, ok := s.tokens[tokenKey]; ok {
			if msg := s.findLocked(id); msg != nil {
				s.mu.Unlock()
				return msg, false, nil
			}
		}
	}

	now := s.now()
	conv, fresh, err := s.resolveConversationLocked(req, now)
	if err != nil {
		s.mu.Unlock()
		return nil, false, err
	}

	msg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Attachment:     req.Attachment,
		ClientToken:    req.ClientToken,
		Status:         models.StatusConfirmed,
		CreatedAt:      now,
	}
	s.messages[conv.ID] = append(s.messages[conv.ID], msg)
	conv.LastActiveAt = now
	if tokenKey != "" {
		s.tokens[tokenKey] = msg.ID
	}
	participants := append([]string(nil), conv.Participants...)
	kind := conv.Kind
	room := RoomFor(conv)
	s.mu.Unlock()

	s.log.Debug().Str("message_id", msg.ID).Str("conversation_id", conv.ID).Str("sender_id", msg.SenderID).Msg("Stored message")

	name := models.EventNewMessage
	if kind == models.KindChurch {
		name = models.EventChurchMessage
	}
	if fresh {
		// Nobody has joined the new conversation room yet.
		for _, p := range participants {
			publish(s.publisher, s.log, name, models.UserRoom(p), msg)
		}
	} else {
		publish(s.publisher, s.log, name, room, msg)
	}

	return &msg, true, nil
}

// resolveConversationLocked finds the target conversation, creating a direct
// conversation when needed, and checks that the sender may post in it.
func (s *MessageService) resolveConversationLocked(req models.SendMessageRequest, now time.Time) (*models.Conversation, bool, error) {
	if req.ConversationID == "" {
		key := pairKey(req.SenderID, req.RecipientID)
		if id, ok := s.direct[key]; ok {
			return s.conversations[id], false, nil
		}
		conv := &models.Conversation{
			ID:           uuid.New().String(),
			Kind:         models.KindDirect,
			Participants: []string{req.SenderID, req.RecipientID},
			CreatedAt:    now,
			LastActiveAt: now,
		}
		s.conversations[conv.ID] = conv
		s.direct[key] = conv.ID
		return conv, true, nil
	}

	conv, ok := s.conversations[req.ConversationID]
	if !ok {
		return nil, false, fmt.Errorf("conversation %s: %w", req.ConversationID, ErrNotFound)
	}
	switch conv.Kind {
	case models.KindChurch:
		if s.authz != nil && !s.authz.Can(conv.ID, req.SenderID, models.PermChat) {
			return nil, false, fmt.Errorf("user %s may not chat in church %s: %w", req.SenderID, conv.ID, ErrForbidden)
		}
	default:
		if !contains(conv.Participants, req.SenderID) {
			return nil, false, fmt.Errorf("user %s is not in conversation %s: %w", req.SenderID, conv.ID, ErrForbidden)
		}
	}
	return conv, false, nil
}

// GetMessages returns all messages for a conversation after a given timestamp.
// If afterTime is zero, returns all messages
func (s *MessageService) GetMessages(conversationID string, afterTime time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	stored := s.messages[conversationID]
	result := make([]models.Message, 0, len(stored))
	for _, msg := range stored {
		if afterTime.IsZero() || msg.CreatedAt.After(afterTime) {
			result = append(result, msg)
		}
	}
	return result, nil
}

// DeleteMessage removes a message. Only its sender may delete it.
func (s *MessageService) DeleteMessage(conversationID, messageID, actorID string) error {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	stored := s.messages[conversationID]
	idx := -1
	for i, msg := range stored {
		if msg.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if stored[idx].SenderID != actorID {
		canModerate := conv.Kind == models.KindChurch && s.authz != nil &&
			s.authz.Can(conv.ID, actorID, models.PermModerateChat)
		if !canModerate {
			s.mu.Unlock()
			return fmt.Errorf("user %s may not delete message %s: %w", actorID, messageID, ErrForbidden)
		}
	}
	s.messages[conversationID] = append(stored[:idx:idx], stored[idx+1:]...)
	room := RoomFor(conv)
	kind := conv.Kind
	s.mu.Unlock()

	name := models.EventMessageDeleted
	if kind == models.KindChurch {
		name = models.EventChurchMessageDeleted
	}
	publish(s.publisher, s.log, name, room, models.DeletedPayload{ConversationID: conversationID, ID: messageID})
	return nil
}

// MarkRead flags every message from other senders as read by reader and
// broadcasts a receipt. The reader must be a participant of a direct chat or
// able to view the church of a church chat.
func (s *MessageService) MarkRead(conversationID, readerID string) (*models.ReadReceipt, error) {
	if readerID == "" {
		return nil, fmt.Errorf("reader_id is required: %w", ErrInvalidArgument)
	}

	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	switch conv.Kind {
	case models.KindChurch:
		if s.authz != nil && !s.authz.Can(conv.ID, readerID, models.PermViewChurch) {
			s.mu.Unlock()
			return nil, fmt.Errorf("user %s may not read church %s: %w", readerID, conv.ID, ErrForbidden)
		}
	default:
		if !contains(conv.Participants, readerID) {
			s.mu.Unlock()
			return nil, fmt.Errorf("user %s is not in conversation %s: %w", readerID, conv.ID, ErrForbidden)
		}
	}

	receipt := models.ReadReceipt{ConversationID: conversationID, ReaderID: readerID, ReadAt: s.now()}
	stored := s.messages[conversationID]
	for i := range stored {
		if stored[i].SenderID == readerID {
			continue
		}
		stored[i].Read = true
		receipt.LastMessageID = stored[i].ID
	}
	room := RoomFor(conv)
	s.mu.Unlock()

	publish(s.publisher, s.log, models.EventMessageRead, room, receipt)
	return &receipt, nil
}

// PurgeBefore deletes messages created before threshold and returns how many
// were removed.
func (s *MessageService) PurgeBefore(threshold time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for convID, stored := range s.messages {
		kept := stored[:0]
		for _, msg := range stored {
			if msg.CreatedAt.Before(threshold) {
				removed++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(s.messages, convID)
		} else {
			s.messages[convID] = kept
		}
	}

	for key, id := range s.tokens {
		if s.findLocked(id) == nil {
			delete(s.tokens, key)
		}
	}
	return removed
}

// GetMessageCount returns the number of messages in a conversation
func (s *MessageService) GetMessageCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[conversationID])
}

func (s *MessageService) findLocked(id string) *models.Message {
	for _, stored := range s.messages {
		for i := range stored {
			if stored[i].ID == id {
				msg := stored[i]
				return &msg
			}
		}
	}
	return nil
}

func pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "\x00" + pair[1]
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
