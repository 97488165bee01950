// Package conversation keeps the message list of one open chat in sync with
// local sends, socket pushes and the history fetch.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/models"
	"github.com/adi-253/fellowship/internal/socket"
)

// Default timings.
const (
	DefaultTypingTimeout   = 1500 * time.Millisecond
	DefaultTypingThrottle  = 2000 * time.Millisecond
	DefaultTypingStopDelay = 1500 * time.Millisecond
)

// TempIDPrefix marks the id of a message the server has not confirmed.
const TempIDPrefix = "tmp-"

// ErrUnknownMessage is returned by Retry for an id that is not a failed send.
var ErrUnknownMessage = errors.New("no failed message with that id")

// ErrClosed is returned by operations on a closed Conversation.
var ErrClosed = errors.New("conversation closed")

// API is the part of the REST client a Conversation needs.
type API interface {
	LoadHistory(ctx context.Context, conversationID string) ([]models.Message, error)
	SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error)
}

// Subscription is a scoped handle on the shared realtime socket.
type Subscription interface {
	Join(room string) error
	On(name string, h socket.Handler)
	Emit(name, room string, payload interface{}) error
	Close() error
}

// SendState is the send sub-state of a conversation.
type SendState int

const (
	Idle SendState = iota
	Sending
	Failed
)

func (s SendState) String() string {
	switch s {
	case Sending:
		return "sending"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// TypingState is the remote typing sub-state of a conversation.
type TypingState int

const (
	NotTyping TypingState = iota
	RemoteTyping
)

func (s TypingState) String() string {
	if s == RemoteTyping {
		return "typing"
	}
	return "not_typing"
}

// Options configures a Conversation.
type Options struct {
	// ConversationID is the open conversation. Leave it empty for the first
	// message of a direct chat; it is adopted from the first confirmation.
	ConversationID string

	// SelfID is the local user
	SelfID string

	// PeerID is the counterpart of a direct chat. When empty, every other
	// user counts as a counterpart.
	PeerID string

	// Events selects direct or church event names. Defaults to DirectEvents.
	Events EventSet

	Clock           Clock
	TypingTimeout   time.Duration
	TypingThrottle  time.Duration
	TypingStopDelay time.Duration

	// OnChange is called after every visible state change, without locks held
	OnChange func()

	Log zerolog.Logger
}

// Conversation reconciles one open chat. It is safe for concurrent use.
type Conversation struct {
	api  API
	sub  Subscription
	opts Options

	mu       sync.Mutex
	id       string
	joined   bool
	messages []models.Message
	closed   bool

	remoteTyping bool
	remoteTimer  Timer
	remoteGen    uint64

	localTyping    bool
	lastTypingSent time.Time
	localTimer     Timer
	localGen       uint64

	focused  bool
	readSent bool
}

// New creates a Conversation, registers its socket handlers and joins the
// conversation room when the id is known.
func New(api API, sub Subscription, opts Options) (*Conversation, error) {
	if strings.TrimSpace(opts.SelfID) == "" {
		return nil, fmt.Errorf("self id is required")
	}
	if opts.ConversationID == "" && opts.PeerID == "" {
		return nil, fmt.Errorf("conversation id or peer id is required")
	}
	if opts.Events.Room == nil {
		opts.Events = DirectEvents
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = DefaultTypingTimeout
	}
	if opts.TypingThrottle <= 0 {
		opts.TypingThrottle = DefaultTypingThrottle
	}
	if opts.TypingStopDelay <= 0 {
		opts.TypingStopDelay = DefaultTypingStopDelay
	}

	c := &Conversation{api: api, sub: sub, opts: opts, id: opts.ConversationID}
	c.opts.Log = opts.Log.With().Str("component", "conversation").Str("self_id", opts.SelfID).Logger()

	ev := opts.Events
	sub.On(ev.Message, c.handleMessage)
	sub.On(ev.Deleted, c.handleDeleted)
	sub.On(ev.TypingStart, func(e models.Event) { c.handleTyping(e, true) })
	sub.On(ev.TypingStop, func(e models.Event) { c.handleTyping(e, false) })
	sub.On(ev.Read, c.handleRead)

	if c.id != "" {
		if err := c.join(c.id); err != nil {
			return c, err
		}
	}
	return c, nil
}

// ID returns the conversation id, empty until the first confirmation of a
// new direct chat.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Conversation) join(id string) error {
	if id == "" {
		return nil
	}
	c.mu.Lock()
	if c.joined || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.joined = true
	c.mu.Unlock()

	if err := c.sub.Join(c.opts.Events.Room(id)); err != nil {
		// Let the next caller try again
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		return fmt.Errorf("failed to join conversation %s: %w", id, err)
	}
	return nil
}

func (c *Conversation) notify() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}

// LoadHistory replaces the message list with the server's history. Messages
// sent or received meanwhile that the history lacks stay after it.
func (c *Conversation) LoadHistory(ctx context.Context) error {
	id := c.ID()
	if id == "" {
		return nil
	}
	if err := c.join(id); err != nil {
		c.opts.Log.Warn().Err(err).Msg("Failed to join conversation")
	}

	history, err := c.api.LoadHistory(ctx, id)
	if err != nil {
		c.opts.Log.Warn().Err(err).Str("conversation_id", id).Msg("Failed to load history")
		return err
	}

	c.mu.Lock()
	known := make(map[string]bool, len(history))
	merged := make([]models.Message, 0, len(history)+len(c.messages))
	for _, msg := range history {
		if msg.ID == "" || known[msg.ID] {
			continue
		}
		known[msg.ID] = true
		if msg.Status == "" {
			msg.Status = models.StatusConfirmed
		}
		merged = append(merged, msg)
	}
	for _, msg := range c.messages {
		if !known[msg.ID] && !(msg.ClientToken != "" && containsToken(merged, msg.ClientToken)) {
			merged = append(merged, msg)
		}
	}
	c.messages = merged
	c.mu.Unlock()

	c.notify()
	return nil
}

// Send appends an optimistic message and submits it. The returned message is
// the entry as it stands after the attempt: confirmed, or failed together
// with the submit error.
func (c *Conversation) Send(ctx context.Context, content string, attachment *models.Attachment) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && attachment == nil {
		return models.Message{}, fmt.Errorf("message is empty")
	}

	token := uuid.New().String()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.Message{}, ErrClosed
	}
	msg := models.Message{
		ID:             TempIDPrefix + token,
		ConversationID: c.id,
		SenderID:       c.opts.SelfID,
		Content:        content,
		Attachment:     attachment,
		ClientToken:    token,
		Status:         models.StatusOptimistic,
		CreatedAt:      c.opts.Clock.Now(),
	}
	if c.id == "" {
		msg.RecipientID = c.opts.PeerID
	}
	c.messages = append(c.messages, msg)
	stop := c.stopLocalTypingLocked()
	c.mu.Unlock()

	stop()
	c.notify()
	return c.submit(ctx, token)
}

// Retry resubmits a failed message with its original client token, so a
// send that did reach the server is not stored twice.
func (c *Conversation) Retry(ctx context.Context, id string) (models.Message, error) {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 || c.messages[idx].Status != models.StatusFailed {
		c.mu.Unlock()
		return models.Message{}, ErrUnknownMessage
	}
	c.messages[idx].Status = models.StatusOptimistic
	token := c.messages[idx].ClientToken
	c.mu.Unlock()

	c.notify()
	return c.submit(ctx, token)
}

// submit sends the pending message with the given token and applies the
// outcome in place.
func (c *Conversation) submit(ctx context.Context, token string) (models.Message, error) {
	c.mu.Lock()
	idx := c.indexByTokenLocked(token)
	if idx < 0 {
		c.mu.Unlock()
		return models.Message{}, ErrUnknownMessage
	}
	pending := c.messages[idx]
	req := models.SendMessageRequest{
		ConversationID: c.id,
		SenderID:       pending.SenderID,
		Content:        pending.Content,
		Attachment:     pending.Attachment,
		ClientToken:    token,
	}
	if c.id == "" {
		req.RecipientID = c.opts.PeerID
	}
	c.mu.Unlock()

	confirmed, err := c.api.SendMessage(ctx, req)

	c.mu.Lock()
	idx = c.indexByTokenLocked(token)
	if idx < 0 {
		// Deleted while in flight
		c.mu.Unlock()
		if err != nil {
			return models.Message{}, err
		}
		return *confirmed, nil
	}

	if err != nil {
		if c.messages[idx].Status == models.StatusOptimistic {
			c.messages[idx].Status = models.StatusFailed
		}
		out := c.messages[idx]
		c.mu.Unlock()

		c.opts.Log.Warn().Err(err).Str("client_token", token).Msg("Send failed")
		c.notify()
		return out, err
	}

	c.confirmLocked(idx, *confirmed)
	c.adoptLocked(confirmed.ConversationID)
	id := c.id
	out := c.messages[c.indexByTokenLocked(token)]
	c.mu.Unlock()

	// Joins a newly adopted room, or retries an earlier failed join
	if err := c.join(id); err != nil {
		c.opts.Log.Warn().Err(err).Msg("Failed to join conversation")
	}
	c.notify()
	return out, nil
}

// confirmLocked turns the entry at idx into the server's copy, keeping its
// position and dropping any other entry that already carries the server id.
func (c *Conversation) confirmLocked(idx int, confirmed models.Message) {
	entry := &c.messages[idx]
	if confirmed.ID != "" {
		entry.ID = confirmed.ID
	}
	if confirmed.ConversationID != "" {
		entry.ConversationID = confirmed.ConversationID
	}
	if !confirmed.CreatedAt.IsZero() {
		entry.CreatedAt = confirmed.CreatedAt
	}
	if confirmed.Attachment != nil {
		entry.Attachment = confirmed.Attachment
	}
	if confirmed.Sender != nil {
		entry.Sender = confirmed.Sender
	}
	entry.RecipientID = ""
	entry.Status = models.StatusConfirmed
	id := entry.ID

	for i := len(c.messages) - 1; i >= 0; i-- {
		if i != idx && c.messages[i].ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
		}
	}
}

// adoptLocked takes id as the conversation id when none is known yet and
// returns it so the caller can join the room.
func (c *Conversation) adoptLocked(id string) string {
	if c.id != "" || id == "" {
		return ""
	}
	c.id = id
	for i := range c.messages {
		if c.messages[i].ConversationID == "" {
			c.messages[i].ConversationID = id
		}
	}
	c.opts.Log.Debug().Str("conversation_id", id).Msg("Conversation created")
	return id
}

// OnRemoteMessage applies a pushed message. Known ids are ignored, messages
// of other conversations are ignored, and the echo of a pending local send
// confirms that send in place.
func (c *Conversation) OnRemoteMessage(msg models.Message) {
	if msg.ID == "" {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	pending := -1
	if msg.ClientToken != "" && msg.SenderID == c.opts.SelfID {
		pending = c.indexByTokenLocked(msg.ClientToken)
	}

	adopt := ""
	switch {
	case c.id != "":
		if msg.ConversationID != "" && msg.ConversationID != c.id {
			c.mu.Unlock()
			return
		}
	case pending >= 0 || (c.opts.PeerID != "" && msg.SenderID == c.opts.PeerID):
		adopt = c.adoptLocked(msg.ConversationID)
	default:
		c.mu.Unlock()
		return
	}

	if c.indexLocked(msg.ID) >= 0 {
		c.mu.Unlock()
		c.joinAdopted(adopt)
		return
	}

	if pending >= 0 {
		c.confirmLocked(pending, msg)
	} else {
		msg.Status = models.StatusConfirmed
		c.messages = append(c.messages, msg)
	}

	// A message from the counterpart ends its typing
	if msg.SenderID != c.opts.SelfID && c.isCounterpartLocked(msg.SenderID) && c.remoteTyping {
		c.clearRemoteTypingLocked()
	}
	c.mu.Unlock()

	c.joinAdopted(adopt)
	c.notify()
}

func (c *Conversation) joinAdopted(id string) {
	if id == "" {
		return
	}
	if err := c.join(id); err != nil {
		c.opts.Log.Warn().Err(err).Msg("Failed to join new conversation")
	}
}

// OnRemoteMessageDeleted removes a message. Unknown ids are ignored.
func (c *Conversation) OnRemoteMessageDeleted(id string) {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 || c.closed {
		c.mu.Unlock()
		return
	}
	c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	c.mu.Unlock()

	c.notify()
}

// OnTypingStart marks the counterpart as typing until OnTypingStop or until
// the typing timeout passes without another start.
func (c *Conversation) OnTypingStart(peerID string) {
	c.mu.Lock()
	if c.closed || !c.isCounterpartLocked(peerID) {
		c.mu.Unlock()
		return
	}
	changed := !c.remoteTyping
	c.remoteTyping = true
	if c.remoteTimer != nil {
		c.remoteTimer.Stop()
	}
	c.remoteGen++
	gen := c.remoteGen
	c.remoteTimer = c.opts.Clock.AfterFunc(c.opts.TypingTimeout, func() { c.expireRemoteTyping(gen) })
	c.mu.Unlock()

	if changed {
		c.notify()
	}
}

// OnTypingStop clears the counterpart's typing state.
func (c *Conversation) OnTypingStop(peerID string) {
	c.mu.Lock()
	if c.closed || !c.isCounterpartLocked(peerID) || !c.remoteTyping {
		c.mu.Unlock()
		return
	}
	c.clearRemoteTypingLocked()
	c.mu.Unlock()

	c.notify()
}

func (c *Conversation) expireRemoteTyping(gen uint64) {
	c.mu.Lock()
	if gen != c.remoteGen || !c.remoteTyping {
		c.mu.Unlock()
		return
	}
	c.remoteTyping = false
	c.remoteTimer = nil
	c.mu.Unlock()

	c.notify()
}

func (c *Conversation) clearRemoteTypingLocked() {
	c.remoteTyping = false
	c.remoteGen++
	if c.remoteTimer != nil {
		c.remoteTimer.Stop()
		c.remoteTimer = nil
	}
}

func (c *Conversation) isCounterpartLocked(userID string) bool {
	if userID == "" || userID == c.opts.SelfID {
		return false
	}
	return c.opts.PeerID == "" || userID == c.opts.PeerID
}

// Typing records a local keystroke. typing_start goes out at most once per
// throttle window and typing_stop follows once keystrokes pause.
func (c *Conversation) Typing() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.id == "" {
		c.mu.Unlock()
		return nil
	}

	now := c.opts.Clock.Now()
	emitStart := !c.localTyping || now.Sub(c.lastTypingSent) >= c.opts.TypingThrottle
	if emitStart {
		c.lastTypingSent = now
	}
	c.localTyping = true

	if c.localTimer != nil {
		c.localTimer.Stop()
	}
	c.localGen++
	gen := c.localGen
	c.localTimer = c.opts.Clock.AfterFunc(c.opts.TypingStopDelay, func() { c.expireLocalTyping(gen) })
	room, id := c.opts.Events.Room(c.id), c.id
	c.mu.Unlock()

	if emitStart {
		return c.sub.Emit(c.opts.Events.TypingStart, room, models.TypingPayload{ConversationID: id, UserID: c.opts.SelfID})
	}
	return nil
}

func (c *Conversation) expireLocalTyping(gen uint64) {
	c.mu.Lock()
	if gen != c.localGen {
		c.mu.Unlock()
		return
	}
	stop := c.stopLocalTypingLocked()
	c.mu.Unlock()

	stop()
}

// stopLocalTypingLocked ends local typing and returns the emission to run
// once the lock is released.
func (c *Conversation) stopLocalTypingLocked() func() {
	if !c.localTyping || c.id == "" {
		return func() {}
	}
	c.localTyping = false
	c.localGen++
	if c.localTimer != nil {
		c.localTimer.Stop()
		c.localTimer = nil
	}
	room, id := c.opts.Events.Room(c.id), c.id
	return func() {
		err := c.sub.Emit(c.opts.Events.TypingStop, room, models.TypingPayload{ConversationID: id, UserID: c.opts.SelfID})
		if err != nil {
			c.opts.Log.Debug().Err(err).Msg("Failed to emit typing stop")
		}
	}
}

// Focus marks the view as focused and sends a read receipt when messages
// from others are unread. A receipt goes out at most once per focus.
func (c *Conversation) Focus() error {
	c.mu.Lock()
	if c.focused {
		c.mu.Unlock()
		return nil
	}
	c.focused = true
	c.readSent = false
	c.mu.Unlock()

	return c.MarkRead()
}

// Blur marks the view as unfocused; the next Focus may send a receipt again.
func (c *Conversation) Blur() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused = false
	c.readSent = false
}

// MarkRead sends a message_read event when the view is focused, messages
// from others are unread and no receipt went out during this focus.
func (c *Conversation) MarkRead() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.focused || c.readSent || c.id == "" || !c.hasUnreadLocked() {
		c.mu.Unlock()
		return nil
	}
	c.readSent = true
	for i := range c.messages {
		if c.messages[i].SenderID != c.opts.SelfID {
			c.messages[i].Read = true
		}
	}
	room, id := c.opts.Events.Room(c.id), c.id
	c.mu.Unlock()

	c.notify()
	return c.sub.Emit(c.opts.Events.Read, room, map[string]string{"conversation_id": id})
}

func (c *Conversation) hasUnreadLocked() bool {
	for _, msg := range c.messages {
		if msg.SenderID != c.opts.SelfID && !msg.Read {
			return true
		}
	}
	return false
}

// OnReadReceipt marks the local user's messages as read when someone else
// has read the conversation.
func (c *Conversation) OnReadReceipt(receipt models.ReadReceipt) {
	c.mu.Lock()
	if c.closed || receipt.ConversationID != c.id || receipt.ReaderID == c.opts.SelfID {
		c.mu.Unlock()
		return
	}
	changed := false
	for i := range c.messages {
		if c.messages[i].SenderID == c.opts.SelfID && c.messages[i].Status == models.StatusConfirmed && !c.messages[i].Read {
			c.messages[i].Read = true
			changed = true
		}
	}
	c.mu.Unlock()

	if changed {
		c.notify()
	}
}

// Messages returns a copy of the message list in display order.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// IsPeerTyping reports whether the counterpart is typing.
func (c *Conversation) IsPeerTyping() bool {
	return c.TypingState() == RemoteTyping
}

// TypingState returns the remote typing sub-state.
func (c *Conversation) TypingState() TypingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteTyping {
		return RemoteTyping
	}
	return NotTyping
}

// State returns Sending while a send is pending, Failed when the latest
// unresolved send failed, Idle otherwise.
func (c *Conversation) State() SendState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := Idle
	for _, msg := range c.messages {
		switch msg.Status {
		case models.StatusOptimistic:
			return Sending
		case models.StatusFailed:
			state = Failed
		}
	}
	return state
}

// Close stops timers, ends local typing and releases the socket scope:
// handlers are removed and the room is left. Calling it again does nothing.
func (c *Conversation) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	stop := c.stopLocalTypingLocked()
	c.closed = true
	c.remoteGen++
	if c.remoteTimer != nil {
		c.remoteTimer.Stop()
		c.remoteTimer = nil
	}
	c.remoteTyping = false
	c.mu.Unlock()

	stop()
	return c.sub.Close()
}

func (c *Conversation) handleMessage(ev models.Event) {
	var msg models.Message
	if err := ev.Decode(&msg); err != nil {
		c.opts.Log.Warn().Err(err).Str("event", ev.Name).Msg("Dropping malformed message event")
		return
	}
	c.OnRemoteMessage(msg)
}

func (c *Conversation) handleDeleted(ev models.Event) {
	var payload models.DeletedPayload
	if err := ev.Decode(&payload); err != nil {
		c.opts.Log.Warn().Err(err).Str("event", ev.Name).Msg("Dropping malformed delete event")
		return
	}
	if id := c.ID(); payload.ConversationID != "" && payload.ConversationID != id {
		return
	}
	c.OnRemoteMessageDeleted(payload.ID)
}

func (c *Conversation) handleTyping(ev models.Event, start bool) {
	var payload models.TypingPayload
	if err := ev.Decode(&payload); err != nil {
		c.opts.Log.Warn().Err(err).Str("event", ev.Name).Msg("Dropping malformed typing event")
		return
	}
	id := c.ID()
	if id == "" || (payload.ConversationID != "" && payload.ConversationID != id) {
		return
	}
	if ev.Room != "" && ev.Room != c.opts.Events.Room(id) {
		return
	}
	if start {
		c.OnTypingStart(payload.UserID)
	} else {
		c.OnTypingStop(payload.UserID)
	}
}

func (c *Conversation) handleRead(ev models.Event) {
	var receipt models.ReadReceipt
	if err := ev.Decode(&receipt); err != nil {
		c.opts.Log.Warn().Err(err).Str("event", ev.Name).Msg("Dropping malformed read event")
		return
	}
	c.OnReadReceipt(receipt)
}

func (c *Conversation) indexLocked(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) indexByTokenLocked(token string) int {
	for i := range c.messages {
		if c.messages[i].ClientToken == token {
			return i
		}
	}
	return -1
}

func containsToken(messages []models.Message, token string) bool {
	for _, msg := range messages {
		if msg.ClientToken == token {
			return true
		}
	}
	return false
}
