package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/models"
	"github.com/adi-253/fellowship/internal/services"
)

// ChurchHandler contains HTTP handlers for churches and their membership
// requests.
type ChurchHandler struct {
	membership *services.MembershipService
	log        zerolog.Logger
}

// NewChurchHandler creates a new ChurchHandler instance.
func NewChurchHandler(membership *services.MembershipService, log zerolog.Logger) *ChurchHandler {
	return &ChurchHandler{
		membership: membership,
		log:        log.With().Str("handler", "churches").Logger(),
	}
}

// CreateChurch handles POST /api/churches
func (h *ChurchHandler) CreateChurch(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChurchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	church, err := h.membership.CreateChurch(req)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, church)
}

// ListMembers handles GET /api/churches/{id}/members
func (h *ChurchHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.membership.Members(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// RequestMembership handles POST /api/churches/{id}/requests
func (h *ChurchHandler) RequestMembership(w http.ResponseWriter, r *http.Request) {
	var req models.JoinChurchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	request, err := h.membership.RequestMembership(chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

// ListRequests handles GET /api/churches/{id}/requests
// Query params:
//   - actor_id: the user asking, who must be allowed to process requests
//   - status: pending (default), approved, rejected or all
func (h *ChurchHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := models.RequestStatus(q.Get("status"))
	switch status {
	case "":
		status = models.RequestPending
	case "all":
		status = ""
	case models.RequestPending, models.RequestApproved, models.RequestRejected:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	requests, err := h.membership.ListRequests(chi.URLParam(r, "id"), q.Get("actor_id"), status)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// ProcessRequest handles POST /api/churches/{id}/requests/{requestID}/{action}
// where action is approve or reject.
func (h *ChurchHandler) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	var approve bool
	switch chi.URLParam(r, "action") {
	case "approve":
		approve = true
	case "reject":
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}

	var body models.ProcessRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	request, err := h.membership.ProcessRequest(chi.URLParam(r, "id"), chi.URLParam(r, "requestID"), body.ActorID, approve)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// SetRole handles PUT /api/churches/{id}/members/{userID}
func (h *ChurchHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var body models.SetRoleRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	member, err := h.membership.SetRole(chi.URLParam(r, "id"), body.ActorID, chi.URLParam(r, "userID"), body.Role)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}
