// Package api exposes documents, rooms and the realtime relay over HTTP
// and websockets.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/broker"
	"github.com/serroba/smart-collab/internal/logging"
	"github.com/serroba/smart-collab/internal/rooms"
	"github.com/serroba/smart-collab/internal/storage"
	"github.com/serroba/smart-collab/internal/ws"
	"github.com/sirupsen/logrus"
)

// Server handles HTTP requests for the collaboration API.
type Server struct {
	store      storage.Store
	rooms      *rooms.Registry
	checker    *acl.Checker
	hub        *ws.Hub
	broker     broker.Broker
	instanceID string
	queueSize  int
	log        *logrus.Entry
	upgrader   websocket.Upgrader
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Store      storage.Store
	Rooms      *rooms.Registry
	Hub        *ws.Hub
	Broker     broker.Broker // An in-process broker when nil
	InstanceID string        // Random when empty
	QueueSize  int           // Per client, ws.DefaultQueueSize when zero
	Logger     *logrus.Entry
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	b := cfg.Broker
	if b == nil {
		b = broker.NewLocal()
	}

	hub := cfg.Hub
	if hub == nil {
		hub = ws.NewHub()
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	return &Server{
		store:      cfg.Store,
		rooms:      cfg.Rooms,
		checker:    acl.NewChecker(cfg.Rooms.Permissions()),
		hub:        hub,
		broker:     b,
		instanceID: instanceID,
		queueSize:  cfg.QueueSize,
		log:        logging.OrDiscard(cfg.Logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
}

// Start subscribes the local hub to the broker until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	return s.broker.Subscribe(ctx, func(env broker.Envelope) {
		n := s.hub.Broadcast(env.RoomID, env.Message, env.ExcludeClientID)

		s.log.WithFields(logrus.Fields{
			"room_id":    env.RoomID,
			"type":       env.Message.Type,
			"origin":     env.Origin,
			"recipients": n,
		}).Trace("fan-out")
	})
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logMiddleware)

	// The websocket authenticates with a room token instead of headers.
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/documents", s.handleCreateDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}", s.handleGetDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", s.handleDeleteDocument).Methods(http.MethodDelete)
	api.HandleFunc("/documents/{id}/autosave", s.handleAutoSave).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/publish", s.handlePublish).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/draft", s.handleDiscardDraft).Methods(http.MethodDelete)
	api.HandleFunc("/documents/{id}/versions", s.handleListVersions).Methods(http.MethodGet)

	api.HandleFunc("/rooms", s.handleCreateRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}", s.handleGetRoom).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}/join", s.handleJoinRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/token", s.handleRoomToken).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/leave", s.handleLeaveRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}/participants", s.handleParticipants).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}/participants/{user}", s.handleRemoveParticipant).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{id}/permissions", s.handlePermissions).Methods(http.MethodGet)

	return r
}

// publish fans msg out to the room on every instance.
func (s *Server) publish(ctx context.Context, roomID string, msg ws.Message, excludeClientID string) {
	err := s.broker.Publish(ctx, broker.Envelope{
		RoomID:          roomID,
		ExcludeClientID: excludeClientID,
		Origin:          s.instanceID,
		Message:         msg,
	})
	if err != nil {
		s.log.WithError(err).WithField("room_id", roomID).Error("failed to publish")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("failed to encode response")
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid request body")
	}

	return nil
}
