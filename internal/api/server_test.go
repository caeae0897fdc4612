package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/api"
	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/document"
	"github.com/serroba/smart-collab/internal/rooms"
	"github.com/serroba/smart-collab/internal/storage"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server  *api.Server
	handler http.Handler
	store   *storage.MemoryStore
	rooms   *rooms.Registry
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	registry := rooms.NewRegistry(rooms.Config{})

	server := api.NewServer(api.ServerConfig{
		Store: store,
		Rooms: registry,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, server.Start(ctx))

	return &testEnv{server: server, handler: server.Handler(), store: store, rooms: registry}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer

	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(api.HeaderUserID, userID)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func TestServerHandler_RequiresAuth(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	for _, path := range []string{"/documents/doc1", "/rooms/room1"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without auth: expected 401, got %d", path, rec.Code)
		}
	}
}

func TestDocuments_Lifecycle(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/documents", "alice", api.CreateDocumentRequest{ID: "doc1", Title: "Notes"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[document.Document](t, rec)
	require.Equal(t, "doc1", created.ID)
	require.Equal(t, document.TypeRichText, created.DocumentType)

	rec = env.do(t, http.MethodPost, "/documents", "alice", api.CreateDocumentRequest{ID: "doc1"})
	require.Equal(t, http.StatusConflict, rec.Code)

	hello := content.Doc(content.Paragraph(content.Text("Hello")))

	rec = env.do(t, http.MethodPost, "/documents/doc1/autosave", "alice", document.Draft{Title: "Notes", Content: hello})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, decode[document.AutoSaveResult](t, rec).HasUnsavedChanges)

	rec = env.do(t, http.MethodGet, "/documents/doc1", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	loaded := decode[document.Document](t, rec)
	require.True(t, loaded.HasDraft())
	require.Equal(t, "Hello", content.PlainText(loaded.LatestContent()))

	rec = env.do(t, http.MethodPost, "/documents/doc1/publish", "alice", document.PublishRequest{CreateVersion: true, VersionSummary: "first pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	published := decode[document.PublishResult](t, rec)
	require.True(t, published.VersionCreated)
	require.Equal(t, 1, published.CurrentVersion)

	rec = env.do(t, http.MethodPost, "/documents/doc1/publish", "alice", document.PublishRequest{})
	require.Equal(t, http.StatusConflict, rec.Code, "nothing left to publish")

	rec = env.do(t, http.MethodGet, "/documents/doc1/versions", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	versions := decode[[]document.Version](t, rec)
	require.Len(t, versions, 1)
	require.Equal(t, "first pass", versions[0].Summary)

	rec = env.do(t, http.MethodPost, "/documents/doc1/autosave", "alice", document.Draft{Content: content.EmptyDoc()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/documents/doc1/draft", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/documents/doc1", "alice", nil)
	discarded := decode[document.Document](t, rec)
	require.False(t, discarded.HasDraft())

	rec = env.do(t, http.MethodDelete, "/documents/doc1", "bob", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "only the creator deletes")

	rec = env.do(t, http.MethodDelete, "/documents/doc1", "alice", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/documents/doc1", "alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocuments_InvalidInput(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewBufferString("{broken"))
	req.Header.Set(api.HeaderUserID, "alice")

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/documents", "alice", api.CreateDocumentRequest{DocumentType: "spreadsheet"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/documents/doc1", "alice", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDocuments_CreateGeneratesID(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/documents", "alice", api.CreateDocumentRequest{Title: "Untitled"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, decode[document.Document](t, rec).ID)
}

func TestRooms_Lifecycle(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/rooms", "alice", api.CreateRoomRequest{DocumentID: "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	env.do(t, http.MethodPost, "/documents", "alice", api.CreateDocumentRequest{ID: "doc1"})

	rec = env.do(t, http.MethodPost, "/rooms", "alice", api.CreateRoomRequest{
		DocumentID: "doc1",
		Settings:   rooms.Settings{MaxParticipants: 2},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	room := decode[rooms.Room](t, rec)
	require.Equal(t, "Document doc1", room.Name)
	require.True(t, room.Active)

	rec = env.do(t, http.MethodGet, "/rooms/"+room.ID, "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/rooms/"+room.ID+"/token", "bob", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "token before join")

	admin := acl.Admin
	rec = env.do(t, http.MethodPost, "/rooms/"+room.ID+"/join", "bob", api.JoinRoomRequest{Username: "Bob", Role: &admin})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	joined := decode[api.JoinRoomResponse](t, rec)
	require.Equal(t, acl.Editor, joined.Role, "ungranted users are capped at editor")
	require.Len(t, joined.Participants, 1)

	rec = env.do(t, http.MethodPost, "/rooms/"+room.ID+"/join", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, acl.Editor, decode[api.JoinRoomResponse](t, rec).Role, "default role is editor")

	rec = env.do(t, http.MethodPost, "/rooms/"+room.ID+"/join", "carol", nil)
	require.Equal(t, http.StatusConflict, rec.Code, "room is full")

	rec = env.do(t, http.MethodPost, "/rooms/"+room.ID+"/token", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	token := decode[api.TokenResponse](t, rec)
	require.NotEmpty(t, token.Token)
	require.Equal(t, int(rooms.DefaultTokenTTL.Seconds()), token.ExpiresIn)

	rec = env.do(t, http.MethodGet, "/rooms/"+room.ID+"/participants", "bob", nil)
	require.Len(t, decode[[]json.RawMessage](t, rec), 2)

	rec = env.do(t, http.MethodGet, "/rooms/"+room.ID+"/participants", "carol", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "roster needs a role in the room")

	rec = env.do(t, http.MethodPost, "/rooms/"+room.ID+"/leave", "bob", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/rooms/"+room.ID+"/leave", "bob", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/rooms/unknown", "bob", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
