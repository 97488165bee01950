package handlers

import (
	"net/http"
)

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Clients int    `json:"clients"`
}

// ClientCounter reports how many realtime sockets are open.
type ClientCounter interface {
	ClientCount() int
}

// HealthCheck returns the handler for GET /health, used by monitoring and
// load balancer checks. counter may be nil.
func HealthCheck(counter ClientCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:  "ok",
			Message: "Fellowship backend is running",
		}
		if counter != nil {
			response.Clients = counter.ClientCount()
		}
		writeJSON(w, http.StatusOK, response)
	}
}
