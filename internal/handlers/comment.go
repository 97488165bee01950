package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/commenttree"
	"github.com/adi-253/fellowship/internal/models"
	"github.com/adi-253/fellowship/internal/services"
)

// CommentTreeResponse is the body of GET /api/posts/{id}/comments
type CommentTreeResponse struct {
	PostID   string              `json:"post_id"`
	Total    int                 `json:"total"`
	Comments []*commenttree.Node `json:"comments"`
}

// CommentHandler contains HTTP handlers for post comments.
type CommentHandler struct {
	commentService *services.CommentService
	log            zerolog.Logger
}

// NewCommentHandler creates a new CommentHandler instance.
func NewCommentHandler(commentService *services.CommentService, log zerolog.Logger) *CommentHandler {
	return &CommentHandler{
		commentService: commentService,
		log:            log.With().Str("handler", "comments").Logger(),
	}
}

// ListComments handles GET /api/posts/{id}/comments
// Query params:
//   - order: root order, "desc" (default), "asc" or "input"
//   - replies: reply order, "input" (default), "asc" or "desc"
//   - depth: maximum nesting, 0 for unlimited
func (h *CommentHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")
	q := r.URL.Query()

	opts := commenttree.DefaultOptions()
	opts.RootOrder = commenttree.ParseOrder(q.Get("order"), opts.RootOrder)
	opts.ReplyOrder = commenttree.ParseOrder(q.Get("replies"), opts.ReplyOrder)
	if raw := q.Get("depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth < 0 {
			writeError(w, http.StatusBadRequest, "depth must be a non-negative integer")
			return
		}
		opts.MaxDepth = depth
	}

	tree := h.commentService.Tree(postID, opts)
	writeJSON(w, http.StatusOK, CommentTreeResponse{
		PostID:   postID,
		Total:    commenttree.Count(tree),
		Comments: tree,
	})
}

// AddComment handles POST /api/posts/{id}/comments
func (h *CommentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	comment, err := h.commentService.AddComment(chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// React handles POST /api/posts/{id}/comments/{commentID}/reactions
func (h *CommentHandler) React(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	comment, err := h.commentService.React(chi.URLParam(r, "id"), chi.URLParam(r, "commentID"), req.Kind)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

// DeleteComment handles DELETE /api/posts/{id}/comments/{commentID}
// Query params:
//   - actor_id: the user deleting the comment
func (h *CommentHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	actorID := strings.TrimSpace(r.URL.Query().Get("actor_id"))
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	if err := h.commentService.DeleteComment(chi.URLParam(r, "id"), chi.URLParam(r, "commentID"), actorID); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
