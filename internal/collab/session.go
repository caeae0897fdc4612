// Package collab is the client side of a collaboration room: it connects,
// authenticates, joins and exchanges edits and cursors with the other
// participants.
package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/logging"
	"github.com/serroba/smart-collab/internal/presence"
	"github.com/serroba/smart-collab/internal/ws"
	"github.com/sirupsen/logrus"
)

// DefaultReconnectDelay is the fixed backoff before reconnecting.
const DefaultReconnectDelay = 3 * time.Second

// TokenSource returns a fresh websocket token for each connection attempt.
type TokenSource func(ctx context.Context) (string, error)

// RemoteChange is an edit received from another participant.
type RemoteChange struct {
	UserID    string
	Operation content.Operation
	SentAt    time.Time
}

// Config holds configuration for creating a session.
type Config struct {
	URL    string
	RoomID string
	UserID string // Local participant, learned from the server when empty
	Role   acl.Role

	Dialer   ws.Dialer
	Tokens   TokenSource
	Presence *presence.Tracker // Created when nil

	ReconnectDelay time.Duration // DefaultReconnectDelay when zero

	OnStateChange  func(State)
	OnRemoteChange func(RemoteChange)
	OnError        func(error)

	Logger *logrus.Entry
	Now    func() time.Time
}

// Session is one client's participation in a room. Inbound messages of a
// connection are handled by a single goroutine in arrival order.
type Session struct {
	cfg      Config
	presence *presence.Tracker
	delay    time.Duration
	log      *logrus.Entry
	now      func() time.Time

	mu        sync.Mutex
	state     State
	gen       uint64 // Incremented for every attempt and on Disconnect
	conn      ws.Conn
	connID    string
	userID    string
	stopped   bool
	err       error
	ctx       context.Context
	cancel    context.CancelFunc
	reconnect *time.Timer

	writeMu sync.Mutex
}

// NewSession creates a disconnected session.
func NewSession(cfg Config) *Session {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	tracker := cfg.Presence
	if tracker == nil {
		tracker = presence.NewTracker()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Session{
		cfg:      cfg,
		presence: tracker,
		delay:    delay,
		log:      logging.OrDiscard(cfg.Logger).WithField("room_id", cfg.RoomID),
		now:      now,
		userID:   cfg.UserID,
		stopped:  true,
	}
}

// Connect starts a connection attempt when the session is disconnected.
// Progress is reported through OnStateChange. The session outlives ctx;
// use Disconnect to stop it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()

	if s.state != Disconnected {
		s.mu.Unlock()

		return nil
	}

	s.stopped = false
	s.err = nil
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	gen := s.startLocked()

	s.mu.Unlock()

	s.notify(Connecting)
	go s.run(s.ctx, gen)

	return nil
}

// Disconnect closes the connection and cancels any pending reconnect.
// Err reports ErrSessionClosed afterwards unless the session had already
// ended with another error.
func (s *Session) Disconnect() {
	s.mu.Lock()

	s.stopped = true
	s.gen++

	if s.err == nil {
		s.err = ErrSessionClosed
	}

	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	conn := s.conn
	s.conn = nil
	changed := s.state != Disconnected
	s.state = Disconnected

	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if changed {
		s.notify(Disconnected)
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Err returns the error that ended the session, if any. It is cleared by
// Connect.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// UserID returns the local participant id.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.userID
}

// ConnectionID returns the id the server assigned to the current
// connection.
func (s *Session) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connID
}

// Presence returns the roster of the room.
func (s *Session) Presence() *presence.Tracker {
	return s.presence
}

// SendTextChange broadcasts one edit. It reports false and sends nothing
// unless the session is active.
func (s *Session) SendTextChange(op content.Operation) bool {
	return s.send(ws.TextChange(op, s.now()))
}

// SendCursorPosition broadcasts the local caret and optional selection.
func (s *Session) SendCursorPosition(cursor presence.Cursor, selection *presence.Selection) bool {
	return s.send(ws.Message{Type: ws.TypeCursorPosition, Cursor: &cursor, Selection: selection})
}

// SendPresence broadcasts whether the local user is active.
func (s *Session) SendPresence(active bool) bool {
	return s.send(ws.Message{Type: ws.TypeUserPresence, Active: &active})
}

func (s *Session) send(msg ws.Message) bool {
	s.mu.Lock()
	conn := s.conn
	active := s.state == Active
	s.mu.Unlock()

	if !active || conn == nil {
		return false
	}

	if err := s.write(conn, msg); err != nil {
		s.log.WithError(err).Warn("send failed")

		return false
	}

	return true
}

func (s *Session) write(conn ws.Conn, msg ws.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.WriteJSON(msg); err != nil {
		// The read loop observes the close and schedules the reconnect.
		_ = conn.Close()

		return err
	}

	return nil
}

// startLocked begins a new attempt and returns its generation.
func (s *Session) startLocked() uint64 {
	s.gen++
	s.state = Connecting
	s.connID = ""

	return s.gen
}

func (s *Session) run(ctx context.Context, gen uint64) {
	token, err := s.cfg.Tokens(ctx)
	if err != nil {
		s.drop(gen, fmt.Errorf("fetch token: %w", err))

		return
	}

	conn, err := s.cfg.Dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		s.drop(gen, fmt.Errorf("dial: %w", err))

		return
	}

	s.mu.Lock()

	if gen != s.gen {
		s.mu.Unlock()
		_ = conn.Close()

		return
	}

	s.conn = conn
	s.mu.Unlock()

	if err := s.write(conn, ws.Message{Type: ws.TypeAuthenticate, Token: token}); err != nil {
		s.drop(gen, fmt.Errorf("authenticate: %w", err))

		return
	}

	s.transition(gen, Connecting, Authenticating)

	for {
		msg, err := ws.ReadMessage(conn)
		if err != nil {
			if errors.Is(err, ws.ErrMalformedMessage) {
				s.log.WithError(err).Warn("skipping malformed message")

				continue
			}

			s.drop(gen, err)

			return
		}

		if !s.current(gen) {
			return
		}

		s.handle(gen, conn, msg)
	}
}

func (s *Session) handle(gen uint64, conn ws.Conn, msg ws.Message) {
	switch msg.Type {
	case ws.TypeConnectionEstablished:
		s.mu.Lock()
		s.connID = msg.ConnectionID
		s.mu.Unlock()
	case ws.TypeAuthenticated:
		s.mu.Lock()
		if s.userID == "" {
			s.userID = msg.UserID
		}
		s.mu.Unlock()

		role := s.cfg.Role
		if err := s.write(conn, ws.Message{Type: ws.TypeJoinRoom, RoomID: s.cfg.RoomID, Role: &role}); err != nil {
			s.log.WithError(err).Warn("join failed")

			return
		}

		s.transition(gen, Authenticating, Joining)
	case ws.TypeRoomJoined:
		s.presence.Reset(msg.Participants)
		s.transition(gen, Joining, Active)
	case ws.TypeUserJoined:
		active := true
		s.presence.Upsert(msg.UserID, presence.Update{Username: &msg.Username, Role: msg.Role, Active: &active})
	case ws.TypeUserLeft:
		s.presence.Remove(msg.UserID)
	case ws.TypeUserPresence:
		if !s.isLocal(msg.UserID) {
			s.presence.Upsert(msg.UserID, presence.Update{Active: msg.Active})
		}
	case ws.TypeCursorPosition:
		if !s.isLocal(msg.UserID) {
			s.presence.Upsert(msg.UserID, presence.Update{Cursor: msg.Cursor, Selection: msg.Selection})
		}
	case ws.TypeTextChange:
		if s.isLocal(msg.UserID) || s.State() != Active {
			return
		}

		if s.cfg.OnRemoteChange != nil {
			s.cfg.OnRemoteChange(RemoteChange{
				UserID:    msg.UserID,
				Operation: msg.Op(),
				SentAt:    time.UnixMilli(msg.Timestamp),
			})
		}
	case ws.TypeError:
		s.remoteError(gen, conn, &RemoteError{Code: msg.Code, Message: msg.Detail})
	default:
		s.log.WithField("type", msg.Type).Debug("ignoring unexpected message")
	}
}

func (s *Session) remoteError(gen uint64, conn ws.Conn, err *RemoteError) {
	s.reportError(err)

	if !errors.Is(err, ErrAuthenticationFailed) {
		return
	}

	s.mu.Lock()

	if gen != s.gen {
		s.mu.Unlock()

		return
	}

	s.stopped = true
	s.err = err
	s.gen++
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	_ = conn.Close()

	s.log.Warn("authentication failed, not reconnecting")
	s.notify(Disconnected)
}

// drop handles the end of attempt gen and schedules exactly one reconnect.
func (s *Session) drop(gen uint64, cause error) {
	s.mu.Lock()

	if gen != s.gen {
		s.mu.Unlock()

		return
	}

	conn := s.conn
	s.conn = nil
	s.state = Disconnected

	if !s.stopped {
		s.reconnect = time.AfterFunc(s.delay, func() { s.retry(gen) })
	}

	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	s.log.WithError(cause).WithField("retry_in", s.delay).Info("disconnected")
	s.reportError(cause)
	s.notify(Disconnected)
}

func (s *Session) retry(gen uint64) {
	s.mu.Lock()

	if s.stopped || gen != s.gen || s.state != Disconnected {
		s.mu.Unlock()

		return
	}

	s.reconnect = nil
	ctx := s.ctx
	next := s.startLocked()
	s.mu.Unlock()

	s.notify(Connecting)
	go s.run(ctx, next)
}

// transition moves from one state to the next if attempt gen is still
// current and in the expected state.
func (s *Session) transition(gen uint64, from, to State) {
	s.mu.Lock()

	if gen != s.gen || s.state != from {
		s.mu.Unlock()

		return
	}

	s.state = to
	s.mu.Unlock()

	s.notify(to)
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return gen == s.gen
}

func (s *Session) isLocal(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return userID != "" && userID == s.userID
}

func (s *Session) notify(state State) {
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(state)
	}
}

func (s *Session) reportError(err error) {
	if s.cfg.OnError != nil && err != nil {
		s.cfg.OnError(err)
	}
}
