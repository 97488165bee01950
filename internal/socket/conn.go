// Package socket is the client side of the realtime websocket: one shared
// connection per user, with scoped subscriptions for each open view.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/models"
)

const writeWait = 10 * time.Second

// ErrClosed is returned when emitting on a closed connection or scope.
var ErrClosed = errors.New("socket closed")

// Handler receives one dispatched event.
type Handler func(ev models.Event)

// Conn is a websocket connection to the realtime hub. Incoming events are
// dispatched by name from a single read goroutine.
type Conn struct {
	ws *websocket.Conn

	// writeMu serializes frames; gorilla allows one concurrent writer
	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	nextID   uint64

	// rooms counts the scopes joined to each room
	rooms map[string]int

	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

// Dial connects to the hub at wsURL as userID.
func Dial(ctx context.Context, wsURL, userID string, log zerolog.Logger) (*Conn, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.Redacted(), err)
	}
	return NewConn(ws, log), nil
}

// NewConn wraps an established websocket and starts reading from it.
func NewConn(ws *websocket.Conn, log zerolog.Logger) *Conn {
	c := &Conn{
		ws:       ws,
		handlers: make(map[string]map[uint64]Handler),
		rooms:    make(map[string]int),
		done:     make(chan struct{}),
		log:      log.With().Str("component", "socket").Logger(),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer c.shutdown()
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Warn().Err(err).Msg("Socket read failed")
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		if ev.Name == models.EventError {
			c.log.Debug().RawJSON("payload", ev.Payload).Msg("Server rejected a frame")
		}
		c.dispatch(ev)
	}
}

// dispatch calls the handlers registered for ev.Name outside the lock, so
// handlers may subscribe or emit.
func (c *Conn) dispatch(ev models.Event) {
	c.mu.Lock()
	registered := c.handlers[ev.Name]
	handlers := make([]Handler, 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Emit sends one event to the hub.
func (c *Conn) Emit(name, room string, payload interface{}) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	ev, err := models.NewEvent(name, room, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to send %s: %w", name, err)
	}
	return nil
}

// Scope opens a subscription handle. Everything joined or registered through
// it is released by its Close.
func (c *Conn) Scope() *Scope {
	return &Scope{conn: c}
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) addHandler(name string, h Handler) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	if c.handlers[name] == nil {
		c.handlers[name] = make(map[uint64]Handler)
	}
	c.handlers[name][c.nextID] = h
	return c.nextID
}

func (c *Conn) removeHandler(name string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.handlers[name], id)
	if len(c.handlers[name]) == 0 {
		delete(c.handlers, name)
	}
}

// HandlerCount returns how many handlers are registered for name.
func (c *Conn) HandlerCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[name])
}

// acquire counts a scope into room and reports whether it is the first.
func (c *Conn) acquire(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room]++
	return c.rooms[room] == 1
}

// release counts a scope out of room and reports whether it was the last.
func (c *Conn) release(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms[room] == 0 {
		return false
	}
	c.rooms[room]--
	if c.rooms[room] == 0 {
		delete(c.rooms, room)
		return true
	}
	return false
}
