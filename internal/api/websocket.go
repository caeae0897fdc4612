package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/presence"
	"github.com/serroba/smart-collab/internal/rooms"
	"github.com/serroba/smart-collab/internal/ws"
	"github.com/sirupsen/logrus"
)

// closeFlushTimeout bounds the wait for a final frame to be written.
const closeFlushTimeout = time.Second

// relay is the server side of one websocket connection.
type relay struct {
	s      *Server
	client *ws.Client
	grant  *rooms.Grant
	log    *logrus.Entry
}

// handleWebSocket handles GET /ws. The peer authenticates with a room
// token, joins the room and then relays edits, cursors and presence to
// the other participants.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")

		return
	}

	client := ws.NewClient(uuid.NewString(), conn, s.queueSize)
	s.hub.Register(client)

	rl := &relay{s: s, client: client, log: s.log.WithField("connection_id", client.ID)}
	defer rl.close()

	rl.log.WithField("clients", s.hub.TotalClients()).Debug("connection opened")

	_ = client.Send(ws.Message{Type: ws.TypeConnectionEstablished, ConnectionID: client.ID})

	rl.serve(context.WithoutCancel(r.Context()))
}

func (rl *relay) serve(ctx context.Context) {
	for {
		msg, err := rl.client.Receive()
		if err != nil {
			if errors.Is(err, ws.ErrMalformedMessage) {
				_ = rl.client.SendError(ws.ErrorCodeInvalidMessage, "malformed message")

				continue
			}

			return
		}

		if !rl.handle(ctx, msg) {
			return
		}
	}
}

// handle processes one message and reports whether to keep reading.
func (rl *relay) handle(ctx context.Context, msg ws.Message) bool {
	switch msg.Type {
	case ws.TypeAuthenticate:
		return rl.authenticate(msg)
	case ws.TypeJoinRoom:
		rl.join(ctx, msg)
	case ws.TypeTextChange:
		rl.textChange(ctx, msg)
	case ws.TypeCursorPosition:
		rl.cursor(ctx, msg)
	case ws.TypeUserPresence:
		rl.presence(ctx, msg)
	default:
		_ = rl.client.SendError(ws.ErrorCodeInvalidMessage, "unexpected message type")
	}

	return true
}

func (rl *relay) authenticate(msg ws.Message) bool {
	grant, err := rl.s.rooms.Redeem(msg.Token)
	if err != nil {
		rl.log.WithError(err).Info("authentication failed")
		rl.sendThenClose(ws.ErrorMessage(ws.ErrorCodeAuthenticationFailed, "invalid or expired token"))

		return false
	}

	p, err := rl.s.rooms.Participant(grant.RoomID, grant.UserID)
	if err != nil {
		rl.sendThenClose(ws.ErrorMessage(ws.ErrorCodeAuthenticationFailed, "no longer a participant"))

		return false
	}

	rl.grant = &grant
	rl.client.SetIdentity(ws.Identity{UserID: grant.UserID, Username: p.Username, Role: p.Role})
	rl.log = rl.log.WithField("user_id", grant.UserID)

	_ = rl.client.Send(ws.Message{Type: ws.TypeAuthenticated, UserID: grant.UserID, Username: p.Username})

	return true
}

func (rl *relay) join(ctx context.Context, msg ws.Message) {
	if rl.grant == nil {
		_ = rl.client.SendError(ws.ErrorCodeAuthenticationFailed, "authenticate first")

		return
	}

	roomID := msg.RoomID
	if roomID == "" {
		roomID = rl.grant.RoomID
	}

	if roomID != rl.grant.RoomID {
		_ = rl.client.SendError(ws.ErrorCodeAccessDenied, "token is for another room")

		return
	}

	id := rl.client.Identity()

	requested := id.Role
	if msg.Role != nil {
		requested = *msg.Role
	}

	room, participants, err := rl.s.rooms.Join(roomID, id.UserID, id.Username, requested)
	if err != nil {
		rl.joinError(err)

		return
	}

	role := requested

	for _, p := range participants {
		if p.UserID == id.UserID {
			role = p.Role
		}
	}

	id.Role = role
	rl.client.SetIdentity(id)
	rl.s.hub.Join(rl.client, roomID)

	_ = rl.client.Send(ws.Message{
		Type:         ws.TypeRoomJoined,
		RoomID:       roomID,
		Role:         &role,
		UserID:       id.UserID,
		Participants: participants,
		RoomInfo:     room,
	})

	rl.s.publish(ctx, roomID, ws.Message{
		Type:     ws.TypeUserJoined,
		RoomID:   roomID,
		UserID:   id.UserID,
		Username: id.Username,
		Role:     &role,
	}, rl.client.ID)

	rl.log.WithFields(logrus.Fields{"room_id": roomID, "role": role}).Info("joined room")
}

func (rl *relay) joinError(err error) {
	switch {
	case errors.Is(err, rooms.ErrRoomFull):
		_ = rl.client.SendError(ws.ErrorCodeRoomFull, "room is full")
	case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, rooms.ErrRoomInactive),
		errors.Is(err, acl.ErrUnknownRole), errors.Is(err, acl.ErrAccessDenied):
		_ = rl.client.SendError(ws.ErrorCodeAccessDenied, err.Error())
	default:
		rl.log.WithError(err).Error("join failed")
		_ = rl.client.SendError(ws.ErrorCodeInternalError, "failed to join room")
	}
}

func (rl *relay) textChange(ctx context.Context, msg ws.Message) {
	id, ok := rl.joined()
	if !ok {
		return
	}

	if !id.Role.CanEdit() {
		_ = rl.client.SendError(ws.ErrorCodeAccessDenied, "viewers cannot edit")

		return
	}

	op := msg.Op()
	if err := op.Validate(); err != nil {
		_ = rl.client.SendError(ws.ErrorCodeInvalidMessage, err.Error())

		return
	}

	out := ws.TextChange(op, time.Now())
	if msg.Timestamp != 0 {
		out.Timestamp = msg.Timestamp
	}

	rl.stamp(&out, id)
	rl.s.publish(ctx, id.RoomID, out, rl.client.ID)
}

func (rl *relay) cursor(ctx context.Context, msg ws.Message) {
	id, ok := rl.joined()
	if !ok {
		return
	}

	if msg.Cursor == nil {
		_ = rl.client.SendError(ws.ErrorCodeInvalidMessage, "cursor is required")

		return
	}

	_ = rl.s.rooms.Touch(id.RoomID, id.UserID, presence.Update{Cursor: msg.Cursor, Selection: msg.Selection})

	out := ws.Message{Type: ws.TypeCursorPosition, Cursor: msg.Cursor, Selection: msg.Selection}
	rl.stamp(&out, id)
	rl.s.publish(ctx, id.RoomID, out, rl.client.ID)
}

func (rl *relay) presence(ctx context.Context, msg ws.Message) {
	id, ok := rl.joined()
	if !ok {
		return
	}

	active := msg.Active == nil || *msg.Active

	_ = rl.s.rooms.Touch(id.RoomID, id.UserID, presence.Update{Active: &active})

	out := ws.Message{Type: ws.TypeUserPresence, Active: &active}
	rl.stamp(&out, id)
	rl.s.publish(ctx, id.RoomID, out, rl.client.ID)
}

// joined returns the client identity, or reports not_joined.
func (rl *relay) joined() (ws.Identity, bool) {
	id := rl.client.Identity()
	if id.RoomID == "" {
		_ = rl.client.SendError(ws.ErrorCodeNotJoined, "join a room first")

		return id, false
	}

	return id, true
}

// stamp sets the sender fields from the authenticated identity, so peers
// cannot speak for someone else.
func (rl *relay) stamp(msg *ws.Message, id ws.Identity) {
	msg.RoomID = id.RoomID
	msg.UserID = id.UserID
	msg.Username = id.Username
}

// sendThenClose writes msg as the last frame and waits until the writer
// has flushed it and closed the connection.
func (rl *relay) sendThenClose(msg ws.Message) {
	if err := rl.client.CloseAfter(msg); err != nil {
		return
	}

	select {
	case <-rl.client.Done():
	case <-time.After(closeFlushTimeout):
	}
}

func (rl *relay) close() {
	id := rl.client.Identity()

	rl.s.hub.Unregister(rl.client)
	_ = rl.client.Close()

	if id.RoomID == "" {
		return
	}

	// Another connection of the same user keeps them in the room.
	for _, other := range rl.s.hub.Clients(id.RoomID) {
		if other.Identity().UserID == id.UserID {
			return
		}
	}

	// A participant already removed over REST was announced there.
	if err := rl.s.rooms.Leave(id.RoomID, id.UserID); err != nil {
		if !errors.Is(err, rooms.ErrNotParticipant) {
			rl.log.WithError(err).Warn("failed to leave room")
		}

		return
	}

	rl.s.publish(context.Background(), id.RoomID, ws.Message{
		Type:   ws.TypeUserLeft,
		RoomID: id.RoomID,
		UserID: id.UserID,
	}, rl.client.ID)

	rl.log.WithFields(logrus.Fields{
		"room_id":   id.RoomID,
		"remaining": rl.s.hub.ClientCount(id.RoomID),
	}).Info("left room")
}
