package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/models"
)

// ReadMarker records read receipts coming from sockets.
type ReadMarker interface {
	MarkRead(conversationID, readerID string) (*models.ReadReceipt, error)
}

// RoomAuthorizer decides whether a user may join a room.
type RoomAuthorizer interface {
	CanJoin(userID, room string) bool
}

// Bridge carries events between hub instances.
type Bridge interface {
	Forward(ctx context.Context, ev models.Event) error
	Listen(ctx context.Context, deliver func(models.Event)) error
}

// Hub maintains the set of active clients and broadcasts events to rooms.
// It handles client registration, room membership and fan-out.
type Hub struct {
	// rooms maps a room name to the clients subscribed to it
	rooms map[string]map[*Client]bool

	// clients is every registered client
	clients map[*Client]bool

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// broadcast sends an event to all clients in a room
	broadcast chan *BroadcastMessage

	// mutex for thread-safe room operations
	mu sync.RWMutex

	done chan struct{}
	once sync.Once

	readMarker ReadMarker
	authorizer RoomAuthorizer
	bridge     Bridge
	metrics    *Metrics
	log        zerolog.Logger
}

// BroadcastMessage contains an encoded event for a room or a single client
type BroadcastMessage struct {
	Name    string
	Room    string
	Message []byte
	Sender  *Client // excluded from delivery when set
	Target  *Client // sole recipient when set
}

type roomChange struct {
	client *Client
	room   string
	join   bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithReadMarker routes message_read frames to m.
func WithReadMarker(m ReadMarker) HubOption { return func(h *Hub) { h.readMarker = m } }

// WithAuthorizer checks joinRoom frames with a.
func WithAuthorizer(a RoomAuthorizer) HubOption { return func(h *Hub) { h.authorizer = a } }

// WithBridge forwards published events to other instances through b.
func WithBridge(b Bridge) HubOption { return func(h *Hub) { h.bridge = b } }

// WithMetrics records hub activity in m.
func WithMetrics(m *Metrics) HubOption { return func(h *Hub) { h.metrics = m } }

// NewHub creates a new Hub instance
func NewHub(log zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	return h
}

// Configure applies opts to a hub that is not running yet, for
// collaborators that are built after the hub.
func (h *Hub) Configure(opts ...HubOption) {
	for _, opt := range opts {
		opt(h)
	}
}

// Run starts the hub's main event loop and returns when ctx is done.
// This should be called in a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	if h.bridge != nil {
		go func() {
			if err := h.bridge.Listen(ctx, h.deliverLocal); err != nil && ctx.Err() == nil {
				h.log.Error().Err(err).Msg("Bridge listener stopped")
			}
		}()
	}

	defer h.shutdown()
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ctx.Done():
			return
		}
	}
}

// Publish sends a server-originated event to its room on this instance and,
// when a bridge is configured, on every other instance.
func (h *Hub) Publish(ev models.Event) {
	h.deliverLocal(ev)
	if h.bridge != nil {
		if err := h.bridge.Forward(context.Background(), ev); err != nil {
			h.log.Warn().Err(err).Str("event", ev.Name).Msg("Failed to forward event to bridge")
		}
	}
}

func (h *Hub) deliverLocal(ev models.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("event", ev.Name).Msg("Failed to encode event")
		return
	}
	h.enqueue(&BroadcastMessage{Name: ev.Name, Room: ev.Room, Message: raw})
}

// enqueue hands a message to the event loop unless the hub has stopped.
func (h *Hub) enqueue(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *Hub) shutdown() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		for client := range h.clients {
			close(client.send)
		}
		h.clients = make(map[*Client]bool)
		h.rooms = make(map[string]map[*Client]bool)
		h.metrics.Clients.Set(0)
		h.metrics.Rooms.Set(0)
	})
}

// registerClient records a client and subscribes it to its own user room
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.metrics.Clients.Inc()
	h.joinRoomLocked(client, models.UserRoom(client.UserID))
	h.log.Debug().Str("user_id", client.UserID).Int("clients", len(h.clients)).Msg("Client connected")
}

// unregisterClient removes a client from every room
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client] {
		h.dropClientLocked(client)
		h.log.Debug().Str("user_id", client.UserID).Int("clients", len(h.clients)).Msg("Client disconnected")
	}
}

func (h *Hub) dropClientLocked(client *Client) {
	for room := range client.rooms {
		h.leaveRoomLocked(client, room)
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.Clients.Dec()
}

func (h *Hub) joinRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		h.joinRoomLocked(client, room)
	}
}

func (h *Hub) joinRoomLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
		h.metrics.Rooms.Inc()
	}
	h.rooms[room][client] = true
	client.rooms[room] = true
}

func (h *Hub) leaveRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		h.leaveRoomLocked(client, room)
	}
}

func (h *Hub) leaveRoomLocked(client *Client, room string) {
	delete(client.rooms, room)
	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(clients, client)
	// Clean up empty rooms
	if len(clients) == 0 {
		delete(h.rooms, room)
		h.metrics.Rooms.Dec()
	}
}

// deliver sends a message to its target or to every client in its room
func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	direction := "out"
	if msg.Sender != nil {
		direction = "relay"
	}
	h.metrics.Events.WithLabelValues(msg.Name, direction).Inc()

	if msg.Target != nil {
		if h.clients[msg.Target] {
			h.sendLocked(msg.Target, msg.Message)
		}
		return
	}

	sent := 0
	for client := range h.rooms[msg.Room] {
		// The sender already has its own event locally
		if client == msg.Sender {
			continue
		}
		if h.sendLocked(client, msg.Message) {
			sent++
		}
	}
	h.log.Debug().Str("event", msg.Name).Str("room", msg.Room).Int("sent", sent).Msg("Broadcast complete")
}

// sendLocked queues a frame for a client, dropping the client when its
// buffer is full.
func (h *Hub) sendLocked(client *Client, frame []byte) bool {
	select {
	case client.send <- frame:
		return true
	default:
		h.log.Warn().Str("user_id", client.UserID).Msg("Send buffer full, dropping client")
		h.metrics.Dropped.Inc()
		h.dropClientLocked(client)
		return false
	}
}

// InRoom reports whether the client is subscribed to room.
func (h *Hub) InRoom(client *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.rooms[room]
}

// GetRoomClientCount returns the number of connected clients in a room
func (h *Hub) GetRoomClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
