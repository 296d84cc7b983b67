// ABOUTME: HTTP API handlers for the chat relay
// ABOUTME: Provides /api/chat, /api/reset-thread, /api/status, and /health endpoints

package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kartbot/kartbot/internal/conversation"
)

// ChatRequest is the JSON request body for POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

// ResetThreadRequest is the JSON request body for POST /api/reset-thread.
type ResetThreadRequest struct {
	SessionID string `json:"sessionId"`
}

// ResetThreadResponse is the JSON response for POST /api/reset-thread.
type ResetThreadResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	WelcomeMessage string `json:"welcomeMessage"`
}

// ErrorResponse is the JSON body for any failed API request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleChat handles POST /api/chat. A request without a session id gets a
// generated one, returned in the response so the client can stick to it.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	reply, err := s.conversation.ProcessMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		s.sendConversationError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, ChatResponse{
		Reply:     reply,
		SessionID: sessionID,
	})
}

// handleResetThread handles POST /api/reset-thread.
func (s *Server) handleResetThread(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}

	var req ResetThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if err := s.conversation.ResetThread(req.SessionID); err != nil {
		s.sendConversationError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, ResetThreadResponse{
		Success:        true,
		Message:        "Conversation reset.",
		WelcomeMessage: s.conversation.WelcomeMessage(),
	})
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET /api/status. The endpoint is disabled unless a
// status key is configured, and requires it as a bearer token.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.config.Status.Key == "" {
		http.NotFound(w, r)
		return
	}

	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token != s.config.Status.Key {
		s.sendError(w, http.StatusUnauthorized, "Unauthorized.")
		return
	}

	s.sendJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// withAPIMiddleware wraps an API handler with CORS headers, per-IP rate
// limiting, and request accounting.
func (s *Server) withAPIMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !s.limiter.Allow(clientIP(r)) {
			s.logger.Warn("rate limit exceeded", "addr", clientIP(r), "path", r.URL.Path)
			s.sendError(w, http.StatusTooManyRequests, "Too many requests. Please slow down.")
			return
		}

		start := s.metrics.RequestStarted()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RequestFinished(start, rec.status >= 400)
	})
}

// statusRecorder captures the response status for request accounting.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// clientIP extracts the caller's address, honoring X-Forwarded-For when a
// proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sendConversationError maps a conversation failure to its HTTP status and
// user-safe message. Anything unclassified becomes a generic 500.
func (s *Server) sendConversationError(w http.ResponseWriter, err error) {
	if ce, ok := conversation.AsError(err); ok {
		s.sendError(w, ce.HTTPStatus, ce.Message)
		return
	}
	s.logger.Error("unclassified conversation error", "error", err)
	s.sendError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
