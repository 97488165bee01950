package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adi-253/fellowship/internal/models"
	"github.com/adi-253/fellowship/internal/websocket"
)

type collector struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *collector) handle(ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func startHub(t *testing.T) (*websocket.Hub, string) {
	t.Helper()
	hub := websocket.NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(websocket.NewHandler(hub, 0, 0, nil, zerolog.Nop()).ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, hub *websocket.Hub, url, user string) *Conn {
	t.Helper()
	before := hub.ClientCount()
	conn, err := Dial(context.Background(), url, user, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() > before }, time.Second, 5*time.Millisecond)
	return conn
}

func TestScope_JoinOnEmit(t *testing.T) {
	hub, url := startHub(t)
	ana := dial(t, hub, url, "ana")
	ben := dial(t, hub, url, "ben")
	room := models.ConversationRoom("c1")

	anaScope := ana.Scope()
	benScope := ben.Scope()
	require.NoError(t, anaScope.Join(room))
	require.NoError(t, benScope.Join(room))
	require.Eventually(t, func() bool { return hub.GetRoomClientCount(room) == 2 }, time.Second, 5*time.Millisecond)

	got := &collector{}
	benScope.On(models.EventTypingStart, got.handle)

	require.NoError(t, anaScope.Emit(models.EventTypingStart, room, models.TypingPayload{ConversationID: "c1"}))
	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)

	var payload models.TypingPayload
	require.NoError(t, got.events[0].Decode(&payload))
	assert.Equal(t, "ana", payload.UserID)
}

func TestScope_CloseReleasesRoomsAndHandlers(t *testing.T) {
	hub, url := startHub(t)
	ana := dial(t, hub, url, "ana")
	room := models.PostRoom("p1")

	first := ana.Scope()
	second := ana.Scope()
	require.NoError(t, first.Join(room))
	require.NoError(t, second.Join(room))
	require.NoError(t, first.Join(room))
	require.Eventually(t, func() bool { return hub.GetRoomClientCount(room) == 1 }, time.Second, 5*time.Millisecond)

	first.On(models.EventNewComment, func(models.Event) {})
	first.On(models.EventCommentDeleted, func(models.Event) {})
	second.On(models.EventNewComment, func(models.Event) {})
	assert.Equal(t, 2, ana.HandlerCount(models.EventNewComment))

	require.NoError(t, first.Close())
	assert.Equal(t, 1, ana.HandlerCount(models.EventNewComment))
	assert.Equal(t, 0, ana.HandlerCount(models.EventCommentDeleted))

	// The second scope still holds the room.
	got := &collector{}
	second.On(models.EventNewComment, got.handle)
	ev, err := models.NewEvent(models.EventNewComment, room, models.Comment{ID: "k1"})
	require.NoError(t, err)
	hub.Publish(ev)
	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.GetRoomClientCount(room))

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return hub.GetRoomClientCount(room) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, ana.HandlerCount(models.EventNewComment))

	// Closing twice is fine and closed scopes refuse work.
	assert.NoError(t, second.Close())
	assert.ErrorIs(t, second.Join(room), ErrClosed)
	assert.ErrorIs(t, second.Emit(models.EventTypingStart, room, nil), ErrClosed)
}

func TestConn_CloseStopsEmits(t *testing.T) {
	hub, url := startHub(t)
	ana := dial(t, hub, url, "ana")

	require.NoError(t, ana.Close())
	<-ana.Done()
	assert.ErrorIs(t, ana.Emit(models.EventJoinRoom, models.PostRoom("p1"), nil), ErrClosed)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	// Scopes on a dead connection still close cleanly.
	scope := ana.Scope()
	assert.ErrorIs(t, scope.Join(models.PostRoom("p1")), ErrClosed)
	assert.NoError(t, scope.Close())
}

func TestScope_FailedJoinReleasesRoom(t *testing.T) {
	hub, url := startHub(t)
	ana := dial(t, hub, url, "ana")
	room := models.PostRoom("p1")

	require.NoError(t, ana.Close())
	<-ana.Done()

	scope := ana.Scope()
	assert.ErrorIs(t, scope.Join(room), ErrClosed)

	ana.mu.Lock()
	_, counted := ana.rooms[room]
	ana.mu.Unlock()
	assert.False(t, counted, "a failed join must not hold the room")

	scope.mu.Lock()
	assert.Empty(t, scope.rooms)
	scope.mu.Unlock()
	assert.NoError(t, scope.Close())
}
