// Package gateway talks to the collaboration server over HTTP: document
// persistence for the editor and room management for the session.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/collab"
	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/document"
	"github.com/serroba/smart-collab/internal/presence"
	"github.com/serroba/smart-collab/internal/rooms"
)

// Identity headers understood by the server.
const (
	headerUserID   = "X-User-Id"
	headerUsername = "X-Username"
)

// DefaultTimeout bounds each request when no HTTP client is given.
const DefaultTimeout = 30 * time.Second

// StatusError is a non-2xx response without a more specific error.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// CreateDocumentRequest describes a document to create.
type CreateDocumentRequest struct {
	ID           string        `json:"id,omitempty"`
	Title        string        `json:"title"`
	Content      *content.Node `json:"content,omitempty"`
	DocumentType document.Type `json:"document_type,omitempty"`
}

// JoinResult describes a room after joining.
type JoinResult struct {
	Room         *rooms.Room            `json:"room"`
	Role         acl.Role               `json:"role"`
	Participants []presence.Participant `json:"participants"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Client calls the server on behalf of one user.
type Client struct {
	baseURL  string
	userID   string
	username string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client for the server at baseURL.
func New(baseURL, userID, username string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		userID:   userID,
		username: username,
		http:     &http.Client{Timeout: DefaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreateDocument creates a document.
func (c *Client) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*document.Document, error) {
	var doc document.Document

	err := c.do(ctx, http.MethodPost, "/documents", req, &doc, map[int]error{
		http.StatusConflict: document.ErrDocumentExists,
	})
	if err != nil {
		return nil, err
	}

	return &doc, nil
}

// GetDocument loads a document including any draft.
func (c *Client) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	var doc document.Document

	if err := c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(id), nil, &doc, documentErrors); err != nil {
		return nil, err
	}

	return &doc, nil
}

// AutoSave stores the draft.
func (c *Client) AutoSave(ctx context.Context, id string, draft document.Draft) (*document.AutoSaveResult, error) {
	var res document.AutoSaveResult

	if err := c.do(ctx, http.MethodPost, "/documents/"+url.PathEscape(id)+"/autosave", draft, &res, documentErrors); err != nil {
		return nil, err
	}

	return &res, nil
}

// PublishDraft promotes the draft to published content.
func (c *Client) PublishDraft(ctx context.Context, id string, req document.PublishRequest) (*document.PublishResult, error) {
	var res document.PublishResult

	err := c.do(ctx, http.MethodPost, "/documents/"+url.PathEscape(id)+"/publish", req, &res, map[int]error{
		http.StatusNotFound: document.ErrDocumentNotFound,
		http.StatusConflict: document.ErrNoDraft,
	})
	if err != nil {
		return nil, err
	}

	return &res, nil
}

// DiscardDraft deletes the draft.
func (c *Client) DiscardDraft(ctx context.Context, id string) (*document.DiscardResult, error) {
	var res document.DiscardResult

	if err := c.do(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id)+"/draft", nil, &res, documentErrors); err != nil {
		return nil, err
	}

	return &res, nil
}

// ListVersions returns the published versions of a document.
func (c *Client) ListVersions(ctx context.Context, id string) ([]document.Version, error) {
	var versions []document.Version

	if err := c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(id)+"/versions", nil, &versions, documentErrors); err != nil {
		return nil, err
	}

	return versions, nil
}

// DeleteDocument deletes a document.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id), nil, nil, map[int]error{
		http.StatusNotFound:  document.ErrDocumentNotFound,
		http.StatusForbidden: acl.ErrAccessDenied,
	})
}

// CreateRoom opens a collaboration room for a document.
func (c *Client) CreateRoom(ctx context.Context, documentID string, settings rooms.Settings) (*rooms.Room, error) {
	body := struct {
		DocumentID string `json:"document_id"`
		rooms.Settings
	}{documentID, settings}

	var room rooms.Room

	if err := c.do(ctx, http.MethodPost, "/rooms", body, &room, documentErrors); err != nil {
		return nil, err
	}

	return &room, nil
}

// GetRoom returns a room.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*rooms.Room, error) {
	var room rooms.Room

	if err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, &room, roomErrors); err != nil {
		return nil, err
	}

	return &room, nil
}

// JoinRoom joins a room with the requested role.
func (c *Client) JoinRoom(ctx context.Context, roomID string, role acl.Role) (*JoinResult, error) {
	body := struct {
		Username string   `json:"username,omitempty"`
		Role     acl.Role `json:"role"`
	}{c.username, role}

	var res JoinResult

	if err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/join", body, &res, roomErrors); err != nil {
		return nil, err
	}

	return &res, nil
}

// GetWebSocketToken returns a single-use token for the room's websocket.
func (c *Client) GetWebSocketToken(ctx context.Context, roomID string) (string, error) {
	var res tokenResponse

	if err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/token", nil, &res, roomErrors); err != nil {
		return "", err
	}

	return res.Token, nil
}

// LeaveRoom leaves a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/leave", nil, nil, roomErrors)
}

// Participants returns the roster of a room.
func (c *Client) Participants(ctx context.Context, roomID string) ([]presence.Participant, error) {
	var roster []presence.Participant

	if err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/participants", nil, &roster, roomErrors); err != nil {
		return nil, err
	}

	return roster, nil
}

// RemoveParticipant removes a user from a room and revokes their role.
// The caller must be a room admin.
func (c *Client) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	path := "/rooms/" + url.PathEscape(roomID) + "/participants/" + url.PathEscape(userID)

	return c.do(ctx, http.MethodDelete, path, nil, nil, roomErrors)
}

// Permissions returns the roles granted in a room. The caller must be a
// room admin.
func (c *Client) Permissions(ctx context.Context, roomID string) ([]acl.Permission, error) {
	var perms []acl.Permission

	if err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID)+"/permissions", nil, &perms, roomErrors); err != nil {
		return nil, err
	}

	return perms, nil
}

// TokenSource joins the room and fetches a fresh token for every
// connection attempt. Rejoining is needed after a drop because the
// server removes disconnected participants.
func (c *Client) TokenSource(roomID string, role acl.Role) collab.TokenSource {
	return func(ctx context.Context) (string, error) {
		if _, err := c.JoinRoom(ctx, roomID, role); err != nil {
			return "", err
		}

		return c.GetWebSocketToken(ctx, roomID)
	}
}

// WebSocketURL returns the websocket endpoint of the server.
func (c *Client) WebSocketURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/ws"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/ws"
	default:
		return c.baseURL + "/ws"
	}
}

var (
	documentErrors = map[int]error{http.StatusNotFound: document.ErrDocumentNotFound}
	roomErrors     = map[int]error{
		http.StatusNotFound:  rooms.ErrRoomNotFound,
		http.StatusGone:      rooms.ErrRoomInactive,
		http.StatusConflict:  rooms.ErrRoomFull,
		http.StatusForbidden: acl.ErrAccessDenied,
	}
)

func (c *Client) do(ctx context.Context, method, path string, body, out any, known map[int]error) error {
	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}

	req.Header.Set(headerUserID, c.userID)

	if c.username != "" {
		req.Header.Set(headerUsername, c.username)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		text := strings.TrimSpace(string(msg))

		if sentinel, ok := known[resp.StatusCode]; ok {
			return fmt.Errorf("%w: %s", sentinel, text)
		}

		return &StatusError{StatusCode: resp.StatusCode, Message: text}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// Ensure Client implements document.Gateway.
var _ document.Gateway = (*Client)(nil)
