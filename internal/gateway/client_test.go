package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/api"
	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/document"
	"github.com/serroba/smart-collab/internal/gateway"
	"github.com/serroba/smart-collab/internal/rooms"
	"github.com/serroba/smart-collab/internal/storage"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := api.NewServer(api.ServerConfig{
		Store: storage.NewMemoryStore(),
		Rooms: rooms.NewRegistry(rooms.Config{}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, server.Start(ctx))

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return ts
}

func TestClient_DocumentLifecycle(t *testing.T) {
	t.Parallel()

	ts := newServer(t)
	ctx := context.Background()
	alice := gateway.New(ts.URL, "alice", "Alice", gateway.WithHTTPClient(ts.Client()))

	initial := content.Doc(content.Paragraph(content.Text("v1")))

	doc, err := alice.CreateDocument(ctx, gateway.CreateDocumentRequest{ID: "doc1", Title: "Notes", Content: &initial})
	require.NoError(t, err)
	require.Equal(t, "doc1", doc.ID)

	_, err = alice.CreateDocument(ctx, gateway.CreateDocumentRequest{ID: "doc1", Title: "Again"})
	require.ErrorIs(t, err, document.ErrDocumentExists)

	_, err = alice.PublishDraft(ctx, "doc1", document.PublishRequest{CreateVersion: true})
	require.ErrorIs(t, err, document.ErrNoDraft)

	edited := content.Doc(content.Paragraph(content.Text("v2")))

	saved, err := alice.AutoSave(ctx, "doc1", document.Draft{Title: "Notes", Content: edited})
	require.NoError(t, err)
	require.True(t, saved.HasUnsavedChanges)

	got, err := alice.GetDocument(ctx, "doc1")
	require.NoError(t, err)
	require.True(t, content.Equal(edited, got.LatestContent()))

	published, err := alice.PublishDraft(ctx, "doc1", document.PublishRequest{CreateVersion: true, VersionSummary: "first"})
	require.NoError(t, err)
	require.True(t, published.VersionCreated)
	require.Equal(t, 1, published.CurrentVersion)

	versions, err := alice.ListVersions(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, versions, 1)

	_, err = alice.DiscardDraft(ctx, "missing")
	require.ErrorIs(t, err, document.ErrDocumentNotFound)

	bob := gateway.New(ts.URL, "bob", "", gateway.WithHTTPClient(ts.Client()))
	require.ErrorIs(t, bob.DeleteDocument(ctx, "doc1"), acl.ErrAccessDenied)

	require.NoError(t, alice.DeleteDocument(ctx, "doc1"))

	_, err = alice.GetDocument(ctx, "doc1")
	require.ErrorIs(t, err, document.ErrDocumentNotFound)
}

func TestClient_Rooms(t *testing.T) {
	t.Parallel()

	ts := newServer(t)
	ctx := context.Background()
	alice := gateway.New(ts.URL, "alice", "Alice", gateway.WithHTTPClient(ts.Client()))

	_, err := alice.CreateDocument(ctx, gateway.CreateDocumentRequest{ID: "doc1", Title: "Notes"})
	require.NoError(t, err)

	room, err := alice.CreateRoom(ctx, "doc1", rooms.Settings{Name: "Review", MaxParticipants: 1})
	require.NoError(t, err)
	require.Equal(t, "doc1", room.DocumentID)

	got, err := alice.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, "Review", got.Name)

	_, err = alice.GetRoom(ctx, "missing")
	require.ErrorIs(t, err, rooms.ErrRoomNotFound)

	joined, err := alice.JoinRoom(ctx, room.ID, acl.Admin)
	require.NoError(t, err)
	require.Equal(t, acl.Admin, joined.Role)
	require.Len(t, joined.Participants, 1)

	bob := gateway.New(ts.URL, "bob", "Bob", gateway.WithHTTPClient(ts.Client()))

	_, err = bob.JoinRoom(ctx, room.ID, acl.Editor)
	require.ErrorIs(t, err, rooms.ErrRoomFull)

	tokens := alice.TokenSource(room.ID, acl.Admin)

	first, err := tokens(ctx)
	require.NoError(t, err)

	second, err := tokens(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	roster, err := alice.Participants(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, "alice", roster[0].UserID)

	_, err = bob.Permissions(ctx, room.ID)
	require.ErrorIs(t, err, acl.ErrAccessDenied)

	perms, err := alice.Permissions(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	require.Equal(t, acl.Admin, perms[0].Role)

	require.ErrorIs(t, alice.RemoveParticipant(ctx, room.ID, "bob"), acl.ErrAccessDenied, "bob never joined")

	require.NoError(t, alice.LeaveRoom(ctx, room.ID))

	_, err = alice.GetWebSocketToken(ctx, room.ID)
	require.Error(t, err)
}

func TestClient_StatusError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	c := gateway.New(ts.URL, "alice", "")

	_, err := c.GetDocument(context.Background(), "doc1")

	var statusErr *gateway.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	require.Equal(t, "boom", statusErr.Message)
}

func TestClient_WebSocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base     string
		expected string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://collab.example.com/", "wss://collab.example.com/ws"},
		{"ws://host", "ws://host/ws"},
	}

	for _, tt := range tests {
		if got := gateway.New(tt.base, "u", "").WebSocketURL(); got != tt.expected {
			t.Errorf("WebSocketURL(%q) = %q, expected %q", tt.base, got, tt.expected)
		}
	}
}

func TestLocal_Gateway(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()

	_, err := store.CreateDocument(ctx, storage.NewDocument{ID: "doc1", Title: "Notes", CreatedBy: "alice"})
	require.NoError(t, err)

	gw := gateway.NewLocal(store, "alice")

	_, err = gw.PublishDraft(ctx, "doc1", document.PublishRequest{})
	require.ErrorIs(t, err, document.ErrNoDraft)

	saved, err := gw.AutoSave(ctx, "doc1", document.Draft{Content: content.Doc(content.Paragraph(content.Text("x")))})
	require.NoError(t, err)
	require.True(t, saved.HasUnsavedChanges)

	published, err := gw.PublishDraft(ctx, "doc1", document.PublishRequest{})
	require.NoError(t, err)
	require.False(t, published.VersionCreated)
	require.Equal(t, 0, published.CurrentVersion)

	versions, err := store.ListVersions(ctx, "doc1")
	require.NoError(t, err)
	require.Empty(t, versions)

	_, err = gw.DiscardDraft(ctx, "missing")
	require.ErrorIs(t, err, document.ErrDocumentNotFound)
}
