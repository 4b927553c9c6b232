package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/AckPipe/internal/models"
)

// sendRequest is the body of POST /send.
type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	healthData := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"active_sessions": s.sessions.Len(),
		"transport":       s.transport,
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.sessions.Snapshot()))
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	chatID, messageID := r.PathValue("chatID"), r.PathValue("messageID")
	sess, ok := s.sessions.Get(chatID, messageID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No active session for this message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess.Snapshot()))
}

func (s *Server) inboundHandler(w http.ResponseWriter, r *http.Request) {
	if s.dedup == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Inbound log not configured"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := s.dedup.Get(ctx, r.PathValue("chatID"), r.PathValue("messageID"))
	if err != nil {
		slog.Error("Server.inboundHandler: lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read inbound log"))
		return
	}
	if rec == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Message not seen"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.To) == "" || strings.TrimSpace(req.Body) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields: to, body"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := s.msgService.SendMessage(ctx, req.To, req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", req.To)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send message"))
		return
	}
	slog.Info("Server.sendHandler: message sent", "to", req.To)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
