package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adi-253/fellowship/internal/models"
)

type fakeMarker struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeMarker) MarkRead(conversationID, readerID string) (*models.ReadReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, conversationID+"/"+readerID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.ReadReceipt{ConversationID: conversationID, ReaderID: readerID}, nil
}

type denyChurches struct{}

func (denyChurches) CanJoin(userID, room string) bool { return !strings.HasPrefix(room, "church:") }

type fakeBridge struct {
	mu        sync.Mutex
	forwarded []models.Event
	incoming  chan models.Event
}

func (b *fakeBridge) Forward(_ context.Context, ev models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwarded = append(b.forwarded, ev)
	return nil
}

func (b *fakeBridge) Listen(ctx context.Context, deliver func(models.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.incoming:
			deliver(ev)
		}
	}
}

type testServer struct {
	hub *Hub
	srv *httptest.Server
	reg *prometheus.Registry
}

func newTestServer(t *testing.T, perSecond float64, burst int, opts ...HubOption) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts = append(opts, WithMetrics(NewMetrics(reg)))
	hub := NewHub(zerolog.Nop(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(NewHandler(hub, perSecond, burst, nil, zerolog.Nop()).ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{hub: hub, srv: srv, reg: reg}
}

func (s *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	before := s.hub.ClientCount()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.hub.ClientCount() > before }, time.Second, 5*time.Millisecond)
	return conn
}

func (s *testServer) gauge(t *testing.T, name string) float64 {
	t.Helper()
	families, err := s.reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func send(t *testing.T, conn *websocket.Conn, name, room string, payload interface{}) {
	t.Helper()
	ev, err := models.NewEvent(name, room, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ev))
}

func read(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func readError(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ev := read(t, conn)
	require.Equal(t, models.EventError, ev.Name)
	var body map[string]string
	require.NoError(t, ev.Decode(&body))
	return body["reason"]
}

func TestServeWS_RequiresUserID(t *testing.T) {
	s := newTestServer(t, 0, 0)

	resp, err := http.Get(s.srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_RegistersIntoUserRoom(t *testing.T) {
	s := newTestServer(t, 0, 0)
	ana := s.dial(t, "ana")

	assert.Equal(t, 1, s.hub.GetRoomClientCount(models.UserRoom("ana")))
	assert.Equal(t, float64(1), s.gauge(t, "fellowship_realtime_connected_clients"))

	ev, err := models.NewEvent(models.EventNewMessage, models.UserRoom("ana"), models.Message{ID: "m1"})
	require.NoError(t, err)
	s.hub.Publish(ev)

	got := read(t, ana)
	assert.Equal(t, models.EventNewMessage, got.Name)
	var msg models.Message
	require.NoError(t, got.Decode(&msg))
	assert.Equal(t, "m1", msg.ID)

	ana.Close()
	require.Eventually(t, func() bool { return s.hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.hub.GetRoomClientCount(models.UserRoom("ana")))
}

func TestHub_TypingRelayExcludesSender(t *testing.T) {
	s := newTestServer(t, 0, 0)
	ana := s.dial(t, "ana")
	ben := s.dial(t, "ben")
	room := models.ConversationRoom("c1")

	send(t, ana, models.EventJoinRoom, room, nil)
	send(t, ben, models.EventJoinRoom, room, nil)
	require.Eventually(t, func() bool { return s.hub.GetRoomClientCount(room) == 2 }, time.Second, 5*time.Millisecond)

	// The user id is stamped by the server, whatever the client claims.
	send(t, ana, models.EventTypingStart, room, models.TypingPayload{ConversationID: "c1", UserID: "mallory"})

	got := read(t, ben)
	assert.Equal(t, models.EventTypingStart, got.Name)
	var payload models.TypingPayload
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, "ana", payload.UserID)
	assert.Equal(t, "c1", payload.ConversationID)

	// Ana's next frame is the answer to her probe, not her own typing event.
	send(t, ana, "probe", "", nil)
	assert.Equal(t, "unknown_event", readError(t, ana))
}

func TestHub_RejectsFrames(t *testing.T) {
	s := newTestServer(t, 0, 0, WithAuthorizer(denyChurches{}))
	ana := s.dial(t, "ana")

	tests := []struct {
		name   string
		frame  func()
		reason string
	}{
		{"other user room", func() { send(t, ana, models.EventJoinRoom, models.UserRoom("ben"), nil) }, "forbidden"},
		{"unauthorized room", func() { send(t, ana, models.EventJoinRoom, models.ChurchRoom("ch1"), nil) }, "forbidden"},
		{"empty room", func() { send(t, ana, models.EventJoinRoom, "", nil) }, "bad_room"},
		{"typing outside room", func() { send(t, ana, models.EventTypingStart, models.ConversationRoom("c9"), nil) }, "not_in_room"},
		{"not json", func() { require.NoError(t, ana.WriteMessage(websocket.TextMessage, []byte("{"))) }, "malformed"},
		{"read without marker", func() {
			send(t, ana, models.EventMessageRead, "", map[string]string{"conversation_id": "c1"})
		}, "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.frame()
			assert.Equal(t, tt.reason, readError(t, ana))
		})
	}
	assert.Equal(t, 0, s.hub.GetRoomClientCount(models.ChurchRoom("ch1")))
}

func TestHub_LeaveRoom(t *testing.T) {
	s := newTestServer(t, 0, 0)
	ana := s.dial(t, "ana")
	room := models.PostRoom("p1")

	send(t, ana, models.EventJoinRoom, room, nil)
	require.Eventually(t, func() bool { return s.hub.GetRoomClientCount(room) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(2), s.gauge(t, "fellowship_realtime_active_rooms"))

	send(t, ana, models.EventLeaveRoom, room, nil)
	require.Eventually(t, func() bool { return s.hub.GetRoomClientCount(room) == 0 }, time.Second, 5*time.Millisecond)

	// Leaving the own user room is ignored.
	send(t, ana, models.EventLeaveRoom, models.UserRoom("ana"), nil)
	send(t, ana, "probe", "", nil)
	readError(t, ana)
	assert.Equal(t, 1, s.hub.GetRoomClientCount(models.UserRoom("ana")))
}

func TestHub_MessageReadUsesMarker(t *testing.T) {
	marker := &fakeMarker{}
	s := newTestServer(t, 0, 0, WithReadMarker(marker))
	ana := s.dial(t, "ana")

	send(t, ana, models.EventMessageRead, "", map[string]string{"conversation_id": "c1"})
	require.Eventually(t, func() bool {
		marker.mu.Lock()
		defer marker.mu.Unlock()
		return len(marker.calls) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "c1/ana", marker.calls[0])

	send(t, ana, models.EventMessageRead, "", map[string]string{})
	assert.Equal(t, "malformed", readError(t, ana))
}

func TestHub_MessageReadRejectedByMarker(t *testing.T) {
	marker := &fakeMarker{err: errors.New("user eve is not in conversation c1")}
	s := newTestServer(t, 0, 0, WithReadMarker(marker))
	eve := s.dial(t, "eve")

	send(t, eve, models.EventMessageRead, "", map[string]string{"conversation_id": "c1"})
	assert.Equal(t, "read_failed", readError(t, eve))
}

func TestHub_RateLimit(t *testing.T) {
	s := newTestServer(t, 0.001, 1)
	ana := s.dial(t, "ana")

	send(t, ana, models.EventJoinRoom, models.PostRoom("p1"), nil)
	send(t, ana, models.EventJoinRoom, models.PostRoom("p2"), nil)

	assert.Equal(t, "rate_limited", readError(t, ana))
	assert.Equal(t, 1, s.hub.GetRoomClientCount(models.PostRoom("p1")))
	assert.Equal(t, 0, s.hub.GetRoomClientCount(models.PostRoom("p2")))
}

func TestHub_Bridge(t *testing.T) {
	bridge := &fakeBridge{incoming: make(chan models.Event)}
	s := newTestServer(t, 0, 0, WithBridge(bridge))
	ana := s.dial(t, "ana")

	local, err := models.NewEvent(models.EventNewComment, models.UserRoom("ana"), models.Comment{ID: "k1"})
	require.NoError(t, err)
	s.hub.Publish(local)
	assert.Equal(t, models.EventNewComment, read(t, ana).Name)

	bridge.mu.Lock()
	require.Len(t, bridge.forwarded, 1)
	assert.Equal(t, local.Room, bridge.forwarded[0].Room)
	bridge.mu.Unlock()

	remote, err := models.NewEvent(models.EventCommentDeleted, models.UserRoom("ana"), models.DeletedPayload{ID: "k1"})
	require.NoError(t, err)
	bridge.incoming <- remote
	assert.Equal(t, models.EventCommentDeleted, read(t, ana).Name)

	// Remote events are not forwarded again.
	bridge.mu.Lock()
	assert.Len(t, bridge.forwarded, 1)
	bridge.mu.Unlock()
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := NewHub(zerolog.Nop(), WithMetrics(NewMetrics(reg)))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(http.HandlerFunc(NewHandler(hub, 0, 0, nil, zerolog.Nop()).ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?user_id=ana", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), "got %v", err)

	// Publishing after shutdown does not block.
	hub.Publish(models.Event{Name: models.EventNewMessage, Room: models.UserRoom("ana")})
	assert.False(t, hub.Register(&Client{}))
}

func TestRedisBridge_DecodeSkipsOwnEvents(t *testing.T) {
	a := NewRedisBridge(nil, "", zerolog.Nop())
	b := NewRedisBridge(nil, "", zerolog.Nop())
	assert.Equal(t, DefaultBridgeChannel, a.channel)

	ev, err := models.NewEvent(models.EventNewMessage, models.ConversationRoom("c1"), models.Message{ID: "m1"})
	require.NoError(t, err)
	raw, err := a.encode(ev)
	require.NoError(t, err)

	_, ok := a.decode(raw)
	assert.False(t, ok)

	got, ok := b.decode(raw)
	require.True(t, ok)
	assert.Equal(t, ev.Name, got.Name)
	assert.Equal(t, ev.Room, got.Room)
	assert.JSONEq(t, string(ev.Payload), string(got.Payload))

	_, ok = b.decode([]byte("not json"))
	assert.False(t, ok)
}
