package rooms

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/logging"
	"github.com/serroba/smart-collab/internal/presence"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// Token defaults.
const (
	DefaultTokenTTL      = 5 * time.Minute
	DefaultTokenCapacity = 4096
	tokenBytes           = 32
)

// Grant is what a redeemed token proves.
type Grant struct {
	RoomID   string
	UserID   string
	IssuedAt time.Time
}

type roomState struct {
	room   Room
	roster *presence.Tracker
}

// Config holds configuration for creating a registry.
type Config struct {
	Permissions   acl.Store // acl.NewMemoryStore() when nil
	TokenTTL      time.Duration
	TokenCapacity int
	Logger        *logrus.Entry
	Now           func() time.Time
}

// Registry keeps rooms in memory. Tokens are stored only as SHA3-256
// hashes and expire after the token TTL.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomState

	perms  acl.Store
	tokens *expirable.LRU[string, Grant]
	ttl    time.Duration
	log    *logrus.Entry
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	perms := cfg.Permissions
	if perms == nil {
		perms = acl.NewMemoryStore()
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	capacity := cfg.TokenCapacity
	if capacity <= 0 {
		capacity = DefaultTokenCapacity
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Registry{
		rooms:  make(map[string]*roomState),
		perms:  perms,
		tokens: expirable.NewLRU[string, Grant](capacity, nil, ttl),
		ttl:    ttl,
		log:    logging.OrDiscard(cfg.Logger),
		now:    now,
	}
}

// Permissions returns the store holding participant roles.
func (r *Registry) Permissions() acl.Store {
	return r.perms
}

// TokenTTL is how long an issued token stays redeemable.
func (r *Registry) TokenTTL() time.Duration {
	return r.ttl
}

// Create opens a room for a document. The creator is granted Admin.
func (r *Registry) Create(documentID, createdBy string, settings Settings) (*Room, error) {
	room := Room{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Settings:   settings.withDefaults(documentID),
		Active:     true,
		CreatedBy:  createdBy,
		CreatedAt:  r.now(),
	}

	if err := r.perms.Grant(room.ID, createdBy, acl.Admin); err != nil {
		return nil, fmt.Errorf("grant creator: %w", err)
	}

	r.mu.Lock()
	r.rooms[room.ID] = &roomState{room: room, roster: presence.NewTracker(presence.WithClock(r.now))}
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"room_id": room.ID, "document_id": documentID}).Info("room created")

	return &room, nil
}

// Get returns a room.
func (r *Registry) Get(roomID string) (*Room, error) {
	state, err := r.state(roomID)
	if err != nil {
		return nil, err
	}

	room := state.room

	return &room, nil
}

// Join adds a user to a room with the requested role, capped by any role
// already granted. Users without a grant may join as viewer or editor.
// Joining again refreshes the participant.
func (r *Registry) Join(roomID, userID, username string, requested acl.Role) (*Room, []presence.Participant, error) {
	state, err := r.state(roomID)
	if err != nil {
		return nil, nil, err
	}

	if !state.room.Active {
		return nil, nil, ErrRoomInactive
	}

	role, granted, err := r.effectiveRole(roomID, userID, requested)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, joined := state.roster.Get(userID); !joined && state.roster.Len() >= state.room.MaxParticipants {
		return nil, nil, ErrRoomFull
	}

	// A first join records the role; later joins may lower the session
	// role but never the grant.
	if !granted {
		if err := r.perms.Grant(roomID, userID, role); err != nil {
			return nil, nil, fmt.Errorf("grant role: %w", err)
		}
	}

	active := true
	state.roster.Upsert(userID, presence.Update{Username: &username, Role: &role, Active: &active})

	room := state.room

	return &room, state.roster.Roster(), nil
}

// effectiveRole caps the requested role by the user's grant and reports
// whether a grant exists.
func (r *Registry) effectiveRole(roomID, userID string, requested acl.Role) (acl.Role, bool, error) {
	if !requested.CanJoin() {
		return 0, false, acl.ErrUnknownRole
	}

	granted, err := r.perms.GetRole(roomID, userID)

	switch {
	case errors.Is(err, acl.ErrPermissionNotFound):
		return min(requested, acl.Editor), false, nil
	case err != nil:
		return 0, false, err
	default:
		return min(requested, granted), true, nil
	}
}

// Leave removes a user from a room's participants. The user's role is
// kept so rejoining restores it.
func (r *Registry) Leave(roomID, userID string) error {
	state, err := r.state(roomID)
	if err != nil {
		return err
	}

	if !state.roster.Remove(userID) {
		return ErrNotParticipant
	}

	return nil
}

// Remove takes a user out of a room and revokes their role, so rejoining
// starts from the ungranted cap. The creator cannot be removed.
func (r *Registry) Remove(roomID, userID string) error {
	state, err := r.state(roomID)
	if err != nil {
		return err
	}

	if userID == state.room.CreatedBy {
		return ErrRoomOwner
	}

	left := state.roster.Remove(userID)

	err = r.perms.Revoke(roomID, userID)

	switch {
	case errors.Is(err, acl.ErrPermissionNotFound) && !left:
		return ErrNotParticipant
	case err != nil && !errors.Is(err, acl.ErrPermissionNotFound):
		return fmt.Errorf("revoke role: %w", err)
	}

	r.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Info("participant removed")

	return nil
}

// Grants returns the roles held in a room, including users not currently
// present.
func (r *Registry) Grants(roomID string) ([]acl.Permission, error) {
	if _, err := r.state(roomID); err != nil {
		return nil, err
	}

	return r.perms.ListPermissions(roomID)
}

// Participants returns the room roster ordered by join time.
func (r *Registry) Participants(roomID string) ([]presence.Participant, error) {
	state, err := r.state(roomID)
	if err != nil {
		return nil, err
	}

	return state.roster.Roster(), nil
}

// Participant returns one participant of a room.
func (r *Registry) Participant(roomID, userID string) (presence.Participant, error) {
	state, err := r.state(roomID)
	if err != nil {
		return presence.Participant{}, err
	}

	p, ok := state.roster.Get(userID)
	if !ok {
		return presence.Participant{}, ErrNotParticipant
	}

	return p, nil
}

// Touch records presence information for a participant.
func (r *Registry) Touch(roomID, userID string, u presence.Update) error {
	state, err := r.state(roomID)
	if err != nil {
		return err
	}

	if _, ok := state.roster.Get(userID); !ok {
		return ErrNotParticipant
	}

	state.roster.Upsert(userID, u)

	return nil
}

// IssueToken creates a single-use websocket token for a participant.
func (r *Registry) IssueToken(roomID, userID string) (string, error) {
	if _, err := r.Participant(roomID, userID); err != nil {
		return "", err
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	token := base64.RawURLEncoding.EncodeToString(raw)
	r.tokens.Add(hashToken(token), Grant{RoomID: roomID, UserID: userID, IssuedAt: r.now()})

	return token, nil
}

// Redeem consumes a token. It fails for unknown, expired or already used
// tokens, and when the user has since left the room.
func (r *Registry) Redeem(token string) (Grant, error) {
	key := hashToken(token)

	grant, ok := r.tokens.Peek(key)
	if !ok || !r.tokens.Remove(key) {
		return Grant{}, ErrInvalidToken
	}

	if _, err := r.Participant(grant.RoomID, grant.UserID); err != nil {
		return Grant{}, ErrInvalidToken
	}

	return grant, nil
}

func (r *Registry) state(roomID string) (*roomState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	return state, nil
}

func hashToken(token string) string {
	sum := sha3.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}
