package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/document"
	"github.com/serroba/smart-collab/internal/presence"
	"github.com/serroba/smart-collab/internal/rooms"
	"github.com/serroba/smart-collab/internal/ws"
)

// CreateRoomRequest is the request body for creating a room.
type CreateRoomRequest struct {
	DocumentID string `json:"document_id"`
	rooms.Settings
}

// JoinRoomRequest is the request body for joining a room.
type JoinRoomRequest struct {
	Username string    `json:"username,omitempty"`
	Role     *acl.Role `json:"role,omitempty"` // Editor when omitted
}

// JoinRoomResponse describes the room after joining.
type JoinRoomResponse struct {
	Room         *rooms.Room            `json:"room"`
	Role         acl.Role               `json:"role"`
	Participants []presence.Participant `json:"participants"`
}

// TokenResponse carries a websocket token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // Seconds
}

// handleCreateRoom handles POST /rooms.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if req.DocumentID == "" {
		http.Error(w, "document_id is required", http.StatusBadRequest)

		return
	}

	if _, err := s.store.GetDocument(r.Context(), req.DocumentID); err != nil {
		s.documentError(w, err)

		return
	}

	room, err := s.rooms.Create(req.DocumentID, UserIDFromContext(r.Context()), req.Settings)
	if err != nil {
		s.roomError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, room)
}

// handleGetRoom handles GET /rooms/{id}.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.rooms.Get(mux.Vars(r)["id"])
	if err != nil {
		s.roomError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, room)
}

// handleJoinRoom handles POST /rooms/{id}/join.
func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	var req JoinRoomRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	role := acl.Editor
	if req.Role != nil {
		role = *req.Role
	}

	username := req.Username
	if username == "" {
		username = UsernameFromContext(r.Context())
	}

	roomID := mux.Vars(r)["id"]
	userID := UserIDFromContext(r.Context())

	room, participants, err := s.rooms.Join(roomID, userID, username, role)
	if err != nil {
		s.roomError(w, err)

		return
	}

	effective := role

	for _, p := range participants {
		if p.UserID == userID {
			effective = p.Role
		}
	}

	s.writeJSON(w, http.StatusOK, JoinRoomResponse{Room: room, Role: effective, Participants: participants})
}

// handleRoomToken handles POST /rooms/{id}/token.
func (s *Server) handleRoomToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.rooms.IssueToken(mux.Vars(r)["id"], UserIDFromContext(r.Context()))
	if err != nil {
		s.roomError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresIn: int(s.rooms.TokenTTL().Seconds()),
	})
}

// handleLeaveRoom handles POST /rooms/{id}/leave.
func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	userID := UserIDFromContext(r.Context())

	if err := s.rooms.Leave(roomID, userID); err != nil {
		s.roomError(w, err)

		return
	}

	s.publish(r.Context(), roomID, ws.Message{Type: ws.TypeUserLeft, RoomID: roomID, UserID: userID}, "")

	w.WriteHeader(http.StatusNoContent)
}

// handleParticipants handles GET /rooms/{id}/participants. The roster is
// visible to users holding a role in the room.
func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	participants, err := s.rooms.Participants(roomID)
	if err == nil {
		err = s.checker.RequirePermission(roomID, UserIDFromContext(r.Context()), acl.ActionJoin)
	}

	if err != nil {
		s.roomError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, participants)
}

// handleRemoveParticipant handles DELETE /rooms/{id}/participants/{user}.
// Admins remove a participant, revoking their role and closing their
// connections.
func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomID, target := vars["id"], vars["user"]

	err := s.moderate(r, roomID)
	if err == nil {
		err = s.rooms.Remove(roomID, target)
	}

	if err != nil {
		s.roomError(w, err)

		return
	}

	for _, client := range s.hub.Clients(roomID) {
		if client.Identity().UserID == target {
			_ = client.CloseAfter(ws.ErrorMessage(ws.ErrorCodeAccessDenied, "removed from room"))
		}
	}

	s.publish(r.Context(), roomID, ws.Message{Type: ws.TypeUserLeft, RoomID: roomID, UserID: target}, "")

	w.WriteHeader(http.StatusNoContent)
}

// handlePermissions handles GET /rooms/{id}/permissions.
func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]

	err := s.moderate(r, roomID)
	if err != nil {
		s.roomError(w, err)

		return
	}

	grants, err := s.rooms.Grants(roomID)
	if err != nil {
		s.roomError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, grants)
}

// moderate checks that the caller may manage the room.
func (s *Server) moderate(r *http.Request, roomID string) error {
	if _, err := s.rooms.Get(roomID); err != nil {
		return err
	}

	return s.checker.RequirePermission(roomID, UserIDFromContext(r.Context()), acl.ActionModerate)
}

func (s *Server) roomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		http.Error(w, "room not found", http.StatusNotFound)
	case errors.Is(err, document.ErrDocumentNotFound):
		http.Error(w, "document not found", http.StatusNotFound)
	case errors.Is(err, rooms.ErrRoomInactive):
		http.Error(w, "room is not active", http.StatusGone)
	case errors.Is(err, rooms.ErrRoomFull):
		http.Error(w, "room is full", http.StatusConflict)
	case errors.Is(err, rooms.ErrRoomOwner):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, rooms.ErrNotParticipant):
		http.Error(w, "not a participant", http.StatusForbidden)
	case errors.Is(err, acl.ErrAccessDenied), errors.Is(err, acl.ErrUnknownRole):
		http.Error(w, "access denied", http.StatusForbidden)
	default:
		s.log.WithError(err).Error("room request failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
