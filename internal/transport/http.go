package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mgrover/collabd/internal/event"
	"github.com/mgrover/collabd/internal/realtime"
)

// Server wires HTTP and WebSocket handlers over the dispatcher.
type Server struct {
	dispatcher *realtime.Dispatcher
	clients    *ClientAuthenticator
	logger     *slog.Logger
}

// NewServer creates the router: the WebSocket endpoint for dashboard
// clients, the authenticated server-to-server publish API, and read-only
// introspection. mcpHandler, when non-nil, is mounted under /mcp behind the
// same service auth.
func NewServer(
	dispatcher *realtime.Dispatcher,
	clients *ClientAuthenticator,
	serviceAuth func(http.Handler) http.Handler,
	mcpHandler http.Handler,
	logger *slog.Logger,
) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{dispatcher: dispatcher, clients: clients, logger: logger}

	r := chi.NewRouter()
	r.Get("/health", srv.handleHealth)
	r.Get("/ws", srv.handleWS)

	r.Group(func(api chi.Router) {
		if serviceAuth != nil {
			api.Use(serviceAuth)
		}
		api.Post("/api/events", srv.handlePublish)
		api.Post("/api/notifications", srv.handleNotify)
		api.Get("/api/projects/{projectID}/presence", srv.handlePresence)
		api.Get("/api/projects/{projectID}/locks", srv.handleLocks)
		api.Get("/api/projects/{projectID}/stats", srv.handleStats)
		if mcpHandler != nil {
			api.Handle("/mcp", mcpHandler)
			api.Handle("/mcp/*", mcpHandler)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleWS authenticates the client, upgrades the connection and runs the
// read loop until the peer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		http.Error(w, "missing projectId", http.StatusBadRequest)
		return
	}

	user, err := s.clients.Verify(clientToken(r))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "project", projectID, "error", err)
		return
	}

	ws := newWSConn(conn)
	client := s.dispatcher.Connect(projectID, user, ws)

	done := make(chan struct{})
	go ws.keepAlive(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.dispatcher.HandleMessage(client, raw)
	}

	close(done)
	s.dispatcher.Disconnect(client)
	_ = ws.Close()
}

type publishRequest struct {
	Type          event.Type      `json:"type"`
	ProjectID     string          `json:"projectId"`
	Data          json.RawMessage `json:"data"`
	ExcludeUserID string          `json:"excludeUserId"`
}

// handlePublish relays a backend-originated domain event to the project
// room.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	if err := s.dispatcher.PublishDomain(req.Type, req.ProjectID, req.Data, req.ExcludeUserID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	service, _ := ServiceFromContext(r.Context())
	s.logger.Debug("event published",
		"service", service, "type", req.Type, "project", req.ProjectID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}

type notifyRequest struct {
	ProjectID    string          `json:"projectId"`
	UserID       string          `json:"userId"`
	Notification json.RawMessage `json:"notification"`
}

type notifyResponse struct {
	Delivered int `json:"delivered"`
}

// handleNotify targets one user's open connections. Delivered tells the
// caller whether to fall back to a push notification.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	delivered := s.dispatcher.NotifyUser(req.ProjectID, req.UserID, req.Notification)
	writeJSON(w, http.StatusOK, notifyResponse{Delivered: delivered})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	writeJSON(w, http.StatusOK, map[string]any{
		"projectId": projectID,
		"users":     s.dispatcher.Presence(projectID),
	})
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	writeJSON(w, http.StatusOK, map[string]any{
		"projectId": projectID,
		"locks":     s.dispatcher.Locks(projectID),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatcher.Stats(chi.URLParam(r, "projectID")))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
