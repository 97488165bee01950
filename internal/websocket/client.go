package websocket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adi-253/fellowship/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 64 * 1024

	// Outbound frames buffered per client before it is dropped
	sendBuffer = 256
)

// Client represents a single WebSocket connection
type Client struct {
	hub *Hub

	// WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound frames
	send chan []byte

	// rooms this client is subscribed to, guarded by hub.mu
	rooms map[string]bool

	// limiter throttles inbound frames
	limiter *rate.Limiter

	// UserID identifies the connected user
	UserID string

	log zerolog.Logger
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, userID string, limiter *rate.Limiter) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		rooms:   make(map[string]bool),
		limiter: limiter,
		UserID:  userID,
		log:     hub.log.With().Str("user_id", userID).Logger(),
	}
}

// Register adds the client to the hub. It returns false when the hub has
// stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// ReadPump pumps frames from the WebSocket connection to the hub
// This runs in its own goroutine per client
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("Read error")
			}
			break
		}
		c.handleFrame(frame)
	}
}

// handleFrame decodes and dispatches one inbound frame.
func (c *Client) handleFrame(frame []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.hub.metrics.Limited.Inc()
		c.reject("rate_limited", "slow down")
		return
	}

	var ev models.Event
	if err := json.Unmarshal(frame, &ev); err != nil || ev.Name == "" {
		c.reject("malformed", "invalid frame")
		return
	}
	c.hub.metrics.Events.WithLabelValues(ev.Name, "in").Inc()

	switch ev.Name {
	case models.EventJoinRoom:
		c.join(ev.Room)

	case models.EventLeaveRoom:
		c.leave(ev.Room)

	case models.EventTypingStart, models.EventTypingStop,
		models.EventUserTypingStart, models.EventUserTypingStop:
		c.relayTyping(ev)

	case models.EventMessageRead:
		c.markRead(ev)

	default:
		c.reject("unknown_event", "unknown event "+ev.Name)
	}
}

func (c *Client) join(room string) {
	room = strings.TrimSpace(room)
	if room == "" {
		c.reject("bad_room", "room is required")
		return
	}
	if strings.HasPrefix(room, "user:") && room != models.UserRoom(c.UserID) {
		c.reject("forbidden", "cannot join "+room)
		return
	}
	if a := c.hub.authorizer; a != nil && !strings.HasPrefix(room, "user:") && !a.CanJoin(c.UserID, room) {
		c.reject("forbidden", "cannot join "+room)
		return
	}
	c.hub.changeMembership(roomChange{client: c, room: room, join: true})
}

func (c *Client) leave(room string) {
	if room == "" || room == models.UserRoom(c.UserID) {
		return
	}
	c.hub.changeMembership(roomChange{client: c, room: room, join: false})
}

// relayTyping forwards a typing event to the rest of the room, stamped with
// the connection's user id.
func (c *Client) relayTyping(ev models.Event) {
	if !c.hub.InRoom(c, ev.Room) {
		c.reject("not_in_room", "join "+ev.Room+" first")
		return
	}

	var payload models.TypingPayload
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			c.reject("malformed", "invalid typing payload")
			return
		}
	}
	payload.UserID = c.UserID

	out, err := models.NewEvent(ev.Name, ev.Room, payload)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode typing event")
		return
	}
	raw, err := json.Marshal(out)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode typing event")
		return
	}
	c.hub.enqueue(&BroadcastMessage{Name: ev.Name, Room: ev.Room, Message: raw, Sender: c})
}

// markRead records a read receipt; the receipt is broadcast by the store.
func (c *Client) markRead(ev models.Event) {
	if c.hub.readMarker == nil {
		c.reject("unsupported", "read receipts are disabled")
		return
	}
	var payload struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ConversationID == "" {
		c.reject("malformed", "conversation_id is required")
		return
	}
	if _, err := c.hub.readMarker.MarkRead(payload.ConversationID, c.UserID); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", payload.ConversationID).Msg("Failed to mark read")
		c.reject("read_failed", err.Error())
	}
}

// reject answers the client with an error event.
func (c *Client) reject(reason, text string) {
	c.hub.metrics.Rejected.WithLabelValues(reason).Inc()
	ev, err := models.NewEvent(models.EventError, "", map[string]string{"reason": reason, "message": text})
	if err != nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.hub.enqueue(&BroadcastMessage{Name: models.EventError, Message: raw, Target: c})
}

// changeMembership applies a join or leave right away, so frames that
// follow on the same connection already see it.
func (h *Hub) changeMembership(change roomChange) {
	if change.join {
		h.joinRoom(change.client, change.room)
	} else {
		h.leaveRoom(change.client, change.room)
	}
}

// WritePump pumps frames from the hub to the WebSocket connection
// This runs in its own goroutine per client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One event per frame; the client decodes frames as single JSON values
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
