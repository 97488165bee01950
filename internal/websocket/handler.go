package websocket

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Handler upgrades HTTP requests into hub clients
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
	log      zerolog.Logger
}

// NewHandler creates a new WebSocket handler. Each connection may send
// perSecond frames with the given burst; perSecond <= 0 disables the limit.
// An empty origins list allows any origin.
func NewHandler(hub *Hub, perSecond float64, burst int, origins []string, log zerolog.Logger) *Handler {
	h := &Handler{
		hub:   hub,
		limit: rate.Limit(perSecond),
		burst: burst,
		log:   log.With().Str("component", "ws").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients send no Origin
		return origin == "" || allowed[strings.TrimRight(origin, "/")]
	}
}

// ServeWS handles WebSocket upgrade requests at /ws
// Query params: user_id
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("user_id", userID).Msg("Upgrade failed")
		return
	}

	var limiter *rate.Limiter
	if h.limit > 0 {
		limiter = rate.NewLimiter(h.limit, h.burst)
	}

	client := NewClient(h.hub, conn, userID, limiter)
	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	h.log.Info().Str("user_id", userID).Str("remote", r.RemoteAddr).Msg("New connection")

	go client.WritePump()
	go client.ReadPump()
}
