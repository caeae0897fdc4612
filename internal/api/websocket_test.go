package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/serroba/smart-collab/internal/acl"
	"github.com/serroba/smart-collab/internal/api"
	"github.com/serroba/smart-collab/internal/collab"
	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/editor"
	"github.com/serroba/smart-collab/internal/gateway"
	"github.com/serroba/smart-collab/internal/presence"
	"github.com/serroba/smart-collab/internal/rooms"
	"github.com/serroba/smart-collab/internal/ws"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

type liveEnv struct {
	*testEnv
	ts     *httptest.Server
	roomID string
}

// newLiveEnv serves the API over HTTP with document doc1 and one room
// created by alice.
func newLiveEnv(t *testing.T) *liveEnv {
	t.Helper()

	env := newEnv(t)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	rec := env.do(t, http.MethodPost, "/documents", "alice", api.CreateDocumentRequest{ID: "doc1", Title: "Notes"})
	require.Equal(t, http.StatusCreated, rec.Code)

	room, err := env.rooms.Create("doc1", "alice", rooms.Settings{})
	require.NoError(t, err)

	return &liveEnv{testEnv: env, ts: ts, roomID: room.ID}
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

// dial connects to the websocket endpoint and consumes
// connection_established.
func (e *liveEnv) dial(t *testing.T) *peer {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = conn.Close() })

	p := &peer{t: t, conn: conn}
	msg := p.read()
	require.Equal(t, ws.TypeConnectionEstablished, msg.Type)
	require.NotEmpty(t, msg.ConnectionID)

	return p
}

// join runs the whole handshake for userID with the given role.
func (e *liveEnv) join(t *testing.T, userID string, role acl.Role) *peer {
	t.Helper()

	_, _, err := e.rooms.Join(e.roomID, userID, strings.ToUpper(userID[:1])+userID[1:], role)
	require.NoError(t, err)

	token, err := e.rooms.IssueToken(e.roomID, userID)
	require.NoError(t, err)

	p := e.dial(t)
	p.write(ws.Message{Type: ws.TypeAuthenticate, Token: token})

	msg := p.read()
	require.Equal(t, ws.TypeAuthenticated, msg.Type)
	require.Equal(t, userID, msg.UserID)

	p.write(ws.Message{Type: ws.TypeJoinRoom, RoomID: e.roomID})

	msg = p.read()
	require.Equal(t, ws.TypeRoomJoined, msg.Type)
	require.NotNil(t, msg.RoomInfo)
	require.Equal(t, "doc1", msg.RoomInfo.DocumentID)

	return p
}

func (p *peer) write(msg ws.Message) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(msg))
}

func (p *peer) read() ws.Message {
	p.t.Helper()

	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(wait)))

	var msg ws.Message
	require.NoError(p.t, p.conn.ReadJSON(&msg))

	return msg
}

// readType skips messages until one of type typ arrives.
func (p *peer) readType(typ ws.MessageType) ws.Message {
	p.t.Helper()

	for {
		if msg := p.read(); msg.Type == typ {
			return msg
		}
	}
}

func TestWebSocket_InvalidTokenIsRejected(t *testing.T) {
	t.Parallel()

	env := newLiveEnv(t)
	p := env.dial(t)

	p.write(ws.Message{Type: ws.TypeAuthenticate, Token: "forged"})

	msg := p.read()
	require.Equal(t, ws.TypeError, msg.Type)
	require.Equal(t, ws.ErrorCodeAuthenticationFailed, msg.Code)

	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(wait)))

	var next ws.Message
	require.Error(t, p.conn.ReadJSON(&next), "connection closes after failed authentication")
}

func TestWebSocket_TokenIsSingleUse(t *testing.T) {
	t.Parallel()

	env := newLiveEnv(t)

	_, _, err := env.rooms.Join(env.roomID, "bob", "Bob", acl.Editor)
	require.NoError(t, err)

	token, err := env.rooms.IssueToken(env.roomID, "bob")
	require.NoError(t, err)

	first := env.dial(t)
	first.write(ws.Message{Type: ws.TypeAuthenticate, Token: token})
	require.Equal(t, ws.TypeAuthenticated, first.read().Type)

	second := env.dial(t)
	second.write(ws.Message{Type: ws.TypeAuthenticate, Token: token})
	require.Equal(t, ws.ErrorCodeAuthenticationFailed, second.read().Code)
}

func TestWebSocket_RequiresJoin(t *testing.T) {
	t.Parallel()

	env := newLiveEnv(t)
	p := env.dial(t)

	p.write(ws.Message{Type: ws.TypeJoinRoom, RoomID: env.roomID})
	require.Equal(t, ws.ErrorCodeAuthenticationFailed, p.read().Code)

	p.write(ws.TextChange(content.NewInsert(0, "x"), time.Now()))
	require.Equal(t, ws.ErrorCodeNotJoined, p.read().Code)
}

func TestWebSocket_MalformedFrame(t *testing.T) {
	t.Parallel()

	env := newLiveEnv(t)
	p := env.dial(t)

	for _, frame := range []string{"{nope", `{"type":"text_change"`, ""} {
		require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		require.Equal(t, ws.ErrorCodeInvalidMessage, p.read().Code, "frame %q", frame)
	}

	// The connection survives.
	p.write(ws.Message{Type: "bogus"})
	require.Equal(t, ws.ErrorCodeInvalidMessage, p.read().Code)
}

func TestWebSocket_RelaysWithSenderStamp(t *testing.T) {
	t.Parallel()

	env := newLiveEnv(t)

	alice := env.join(t, "alice", acl.Admin)
	bob := env.join(t, "bob", acl.Editor)

	joined := alice.readType(ws.TypeUserJoined)
	require.Equal(t, "bob", joined.UserID)
	require.Equal(t, acl.Editor, *joined.Role)

	change := ws.TextChange(content.NewInsert(0, "Hi"), time.UnixMilli(1_700_000_000_000))
	change.UserID = "mallory"
	bob.write(change)

	got := alice.readType(ws.TypeTextChange)
	require.Equal(t, "bob", got.UserID, "sender is stamped by the server")
	require.Equal(t, "Bob", got.Username)
	require.Equal(t, content.NewInsert(0, "Hi"), got.Op())
	require.Equal(t, int64(1_700_000_000_000), got.Timestamp)

	bob.write(ws.Message{Type: ws.TypeCursorPosition, Cursor: &presenceCursor})

	cursor := alice.readType(ws.TypeCursorPosition)
	require.Equal(t, "bob", cursor.UserID)
	require.Equal(t, 2, cursor.Cursor.Position)

	p, err := env.rooms.Participant(env.roomID, "bob")
	require.NoError(t, err)
	require.Equal(t, 2, p.Cursor.Position)

	// The sender never gets its own messages back.
	alice.write(ws.TextChange(content.NewInsert(2, "!"), time.Now()))
	require.Equal(t, "alice", bob.readType(ws.TypeTextChange).UserID)

	_ = bob.conn.Close()

	left := alice.readType(ws.TypeUserLeft)
	require.Equal(t, "bob", left.UserID)

	require.Eventually(t, func() bool {
		_, err := env.rooms.Participant(env.roomID, "bob")

		return err != nil
	}, wait, 10*time.Millisecond)
}

func TestWebSocket_ViewersCannotEdit(t *testing.T) {
	t.Parallel()

	env := newLiveEnv(t)

	alice := env.join(t, "alice", acl.Admin)
	viewer := env.join(t, "vera", acl.Viewer)

	alice.readType(ws.TypeUserJoined)

	viewer.write(ws.TextChange(content.NewInsert(0, "x"), time.Now()))

	msg := viewer.readType(ws.TypeError)
	require.Equal(t, ws.ErrorCodeAccessDenied, msg.Code)

	// Malformed edits are rejected before fan-out.
	bob := env.join(t, "bob", acl.Editor)
	alice.readType(ws.TypeUserJoined)

	bob.write(ws.Message{Type: ws.TypeTextChange, Operation: "move", Position: 1})
	require.Equal(t, ws.ErrorCodeInvalidMessage, bob.readType(ws.TypeError).Code)

	// Viewers still share their cursor.
	viewer.write(ws.Message{Type: ws.TypeCursorPosition, Cursor: &presenceCursor})
	require.Equal(t, "vera", alice.readType(ws.TypeCursorPosition).UserID)
}

func TestWebSocket_AdminRemovesParticipant(t *testing.T) {
	t.Parallel()

	env := newLiveEnv(t)

	alice := env.join(t, "alice", acl.Admin)
	bob := env.join(t, "bob", acl.Editor)

	alice.readType(ws.TypeUserJoined)

	path := "/rooms/" + env.roomID

	rec := env.do(t, http.MethodGet, path+"/permissions", "bob", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "editors do not moderate")

	rec = env.do(t, http.MethodDelete, path+"/participants/alice", "bob", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, path+"/permissions", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	grants := decode[[]acl.Permission](t, rec)
	require.Len(t, grants, 2)
	require.Equal(t, "alice", grants[0].UserID)
	require.Equal(t, acl.Admin, grants[0].Role)
	require.Equal(t, "bob", grants[1].UserID)
	require.Equal(t, acl.Editor, grants[1].Role)

	rec = env.do(t, http.MethodDelete, path+"/participants/alice", "alice", nil)
	require.Equal(t, http.StatusConflict, rec.Code, "the creator stays")

	rec = env.do(t, http.MethodDelete, path+"/participants/bob", "alice", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	msg := bob.readType(ws.TypeError)
	require.Equal(t, ws.ErrorCodeAccessDenied, msg.Code)

	require.NoError(t, bob.conn.SetReadDeadline(time.Now().Add(wait)))

	var next ws.Message
	require.Error(t, bob.conn.ReadJSON(&next), "connection closes after removal")

	require.Equal(t, "bob", alice.readType(ws.TypeUserLeft).UserID)

	rec = env.do(t, http.MethodGet, path+"/permissions", "alice", nil)
	require.Len(t, decode[[]acl.Permission](t, rec), 1)

	_, err := env.rooms.Participant(env.roomID, "bob")
	require.ErrorIs(t, err, rooms.ErrNotParticipant)

	rec = env.do(t, http.MethodDelete, path+"/participants/bob", "alice", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "already removed")

	// Closing bob's relay does not announce him a second time.
	env.join(t, "carol", acl.Editor)
	require.Equal(t, ws.TypeUserJoined, alice.read().Type)
}

var presenceCursor = presence.Cursor{Position: 2}

// renders collects the trees an editor rendered.
type renders struct {
	mu   sync.Mutex
	docs []content.Node
}

func (r *renders) record(doc content.Node) {
	r.mu.Lock()
	r.docs = append(r.docs, doc)
	r.mu.Unlock()
}

func (r *renders) lastText() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.docs) == 0 {
		return ""
	}

	return content.PlainText(r.docs[len(r.docs)-1])
}

func openEditor(t *testing.T, env *liveEnv, userID string, onRender func(content.Node)) *editor.Editor {
	t.Helper()

	client := gateway.New(env.ts.URL, userID, strings.ToUpper(userID[:1])+userID[1:])

	e, err := editor.Open(context.Background(), editor.Config{
		DocumentID: "doc1",
		Gateway:    client,
		Collab: &collab.Config{
			URL:    client.WebSocketURL(),
			RoomID: env.roomID,
			Role:   acl.Editor,
			Dialer: ws.WebsocketDialer{},
			Tokens: client.TokenSource(env.roomID, acl.Editor),
		},
		AutosaveInterval: time.Hour,
		OnRender:         onRender,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = e.Close(context.Background()) })

	require.Eventually(t, func() bool { return e.Session().State() == collab.Active }, wait, 10*time.Millisecond)

	return e
}

func TestEndToEnd_TwoEditors(t *testing.T) {
	t.Parallel()

	env := newLiveEnv(t)

	var aliceRenders, bobRenders renders

	alice := openEditor(t, env, "alice", aliceRenders.record)
	bob := openEditor(t, env, "bob", bobRenders.record)

	require.Eventually(t, func() bool {
		_, ok := alice.Session().Presence().Get("bob")

		return ok
	}, wait, 10*time.Millisecond)

	require.NoError(t, alice.Apply(content.NewInsert(0, "Hello")))
	require.Eventually(t, func() bool { return bobRenders.lastText() == "Hello" }, wait, 10*time.Millisecond)

	ops := bob.ReplaceHTML("<p>Hello world</p>")
	require.Equal(t, []content.Operation{content.NewInsert(5, " world")}, ops)
	require.Eventually(t, func() bool { return aliceRenders.lastText() == "Hello world" }, wait, 10*time.Millisecond)

	require.True(t, bob.MoveCursor(presence.Cursor{Position: 11}, nil))
	require.Eventually(t, func() bool {
		p, ok := alice.Session().Presence().Get("bob")

		return ok && p.Cursor != nil && p.Cursor.Position == 11
	}, wait, 10*time.Millisecond)

	alice.SetTitle("Greeting")
	require.NoError(t, alice.Close(context.Background()))

	doc, err := env.store.GetDocument(context.Background(), "doc1")
	require.NoError(t, err)
	require.Equal(t, "Hello world", content.PlainText(doc.LatestContent()))
	require.Equal(t, "Greeting", doc.LatestTitle())

	res, err := bob.Publish(context.Background(), true, "first pass")
	require.NoError(t, err)
	require.Equal(t, 1, res.CurrentVersion)
	require.False(t, bob.Status().IsError)
}
