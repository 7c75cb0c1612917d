package handlers

import (
	"context"
	"net/http"
	"os"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Backend   string           `json:"backend"`
	Instance  string           `json:"instance,omitempty"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	check := func(name string, p Pinger) {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
			return
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	check("store", h.store)
	for name, p := range h.checks {
		check(name, p)
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	hostname, _ := os.Hostname()
	resp := HealthResponse{
		Status:    status,
		Version:   version,
		Backend:   h.backend,
		Instance:  hostname,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	h.JSON(w, statusCode, resp)
}

// Endpoint describes one API route.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// RootResponse represents the API info response.
type RootResponse struct {
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Root handles the API info endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Name:    "chatroom",
		Version: version,
		Endpoints: []Endpoint{
			{"POST", "/rooms", "create a room; code is generated when omitted"},
			{"GET", "/rooms/{code}", "room metadata"},
			{"GET", "/rooms/{code}/messages?after={seq}", "messages ordered by time, optionally after a sequence number"},
			{"POST", "/rooms/{code}/messages", "append a message"},
			{"GET", "/rooms/{code}/ws?name={display name}", "WebSocket stream of new messages; text frames are sent"},
			{"GET", "/health", "dependency health"},
			{"GET", "/metrics", "Prometheus metrics"},
		},
	})
}
