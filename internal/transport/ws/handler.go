package ws

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"asamblea/internal/app"
)

// Handler handles WebSocket connections
type Handler struct {
	hub      *app.SessionHub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *app.SessionHub, logger *slog.Logger) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The bridge only listens for the local app shell
				return true
			},
		},
		logger: logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assemblyID, err := strconv.ParseInt(r.URL.Query().Get("assemblyId"), 10, 64)
	if err != nil || assemblyID <= 0 {
		http.Error(w, "assemblyId is required", http.StatusBadRequest)
		return
	}

	session, err := h.hub.GetSession(assemblyID)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	// Upgrade connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(conn, session, clientID, h.logger)

	// Register client with session
	session.RegisterClient(client)

	h.logger.Info("websocket connected",
		"assemblyID", assemblyID,
		"clientID", clientID,
	)

	client.sendConnected()

	// Start the client
	client.Run()
}
