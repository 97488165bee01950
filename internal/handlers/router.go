package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/services"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Messages   *services.MessageService
	Comments   *services.CommentService
	Membership *services.MembershipService

	// Realtime serves GET /ws; nil disables the route
	Realtime http.HandlerFunc

	// Metrics serves GET /metrics; nil disables the route
	Metrics http.Handler

	// Clients is reported by /health; may be nil
	Clients ClientCounter

	CORSOrigins   []string
	UploadDir     string
	MaxUploadSize int64
	BaseURL       string

	Log zerolog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", HealthCheck(d.Clients))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Realtime != nil {
		r.Get("/ws", d.Realtime)
	}

	messages := NewMessageHandler(d.Messages, d.Log)
	comments := NewCommentHandler(d.Comments, d.Log)
	churches := NewChurchHandler(d.Membership, d.Log)
	uploads := NewUploadHandler(d.UploadDir, d.MaxUploadSize, d.BaseURL, d.Log)

	r.Handle("/uploads/*", uploads.Files())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/posts/{id}/comments", func(r chi.Router) {
			r.Get("/", comments.ListComments)
			r.Post("/", comments.AddComment)
			r.Delete("/{commentID}", comments.DeleteComment)
			r.Post("/{commentID}/reactions", comments.React)
		})

		r.Post("/messages", messages.SendMessage)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", messages.GetConversation)
			r.Get("/messages", messages.GetMessages)
			r.Delete("/messages/{messageID}", messages.DeleteMessage)
			r.Post("/read", messages.MarkRead)
		})

		r.Route("/churches", func(r chi.Router) {
			r.Post("/", churches.CreateChurch)
			r.Get("/{id}/members", churches.ListMembers)
			r.Put("/{id}/members/{userID}", churches.SetRole)
			r.Post("/{id}/requests", churches.RequestMembership)
			r.Get("/{id}/requests", churches.ListRequests)
			r.Post("/{id}/requests/{requestID}/{action}", churches.ProcessRequest)
		})

		r.Post("/uploads", uploads.Upload)
	})

	return r
}
