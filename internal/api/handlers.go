// Package api exposes HTTP handlers for the signup service.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"example.com/signup/internal/domain"
)

// IndexPath is where GET / redirects browsers.
const IndexPath = "/static/index.html"

// Handler coordinates HTTP requests with the activity registry.
type Handler struct {
	service *domain.Service
	logger  *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", root)
	mux.HandleFunc("GET /activities", h.listActivities)
	mux.HandleFunc("POST /activities/{name}/signup", h.signup)
	mux.HandleFunc("DELETE /activities/{name}/unregister", h.unregister)
	mux.HandleFunc("GET /healthz", healthz)
}

// RegisterStatic serves the browser client from dir under /static/.
func RegisterStatic(mux *http.ServeMux, dir string) {
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, IndexPath, http.StatusTemporaryRedirect)
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := h.service.List(r.Context())
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActivitiesResponse(activities))
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	email := strings.TrimSpace(r.URL.Query().Get("email"))

	if err := h.service.Enroll(r.Context(), name, email); err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Signed up %s for %s", email, name),
	})
}

func (h *Handler) unregister(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	email := strings.TrimSpace(r.URL.Query().Get("email"))

	if err := h.service.Withdraw(r.Context(), name, email); err != nil {
		h.domainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Unregistered %s from %s", email, name),
	})
}

func (h *Handler) domainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Activity not found")
	case errors.Is(err, domain.ErrAlreadyEnrolled):
		writeError(w, http.StatusBadRequest, "conflict", "Student is already signed up")
	case errors.Is(err, domain.ErrNotEnrolled):
		writeError(w, http.StatusBadRequest, "conflict", "Student is not signed up for this activity")
	case errors.Is(err, domain.ErrInvalidEmail):
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "email query parameter is required")
	default:
		h.serverError(w, r, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "server_error", "internal server error")
}

// ActivityView is the JSON shape of one activity in the listing.
type ActivityView struct {
	Description     string   `json:"description"`
	Schedule        string   `json:"schedule"`
	MaxParticipants int      `json:"max_participants"`
	Participants    []string `json:"participants"`
}

// ActivitiesResponse encodes as a JSON object keyed by activity name, keeping
// catalog order instead of the sorted key order encoding/json uses for maps.
type ActivitiesResponse []domain.Activity

// MarshalJSON implements json.Marshaler.
func (a ActivitiesResponse) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, activity := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(activity.Name)
		if err != nil {
			return nil, err
		}
		participants := activity.Participants
		if participants == nil {
			participants = []string{}
		}
		value, err := json.Marshal(ActivityView{
			Description:     activity.Description,
			Schedule:        activity.Schedule,
			MaxParticipants: activity.MaxParticipants,
			Participants:    participants,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MessageResponse is returned by successful signup and unregister calls.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
