package editor_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/document"
	"github.com/serroba/smart-collab/internal/editor"
	"github.com/serroba/smart-collab/internal/gateway"
	"github.com/serroba/smart-collab/internal/storage"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*storage.MemoryStore, document.Gateway) {
	t.Helper()

	store := storage.NewMemoryStore()

	_, err := store.CreateDocument(context.Background(), storage.NewDocument{ID: "doc1", Title: "Notes"})
	require.NoError(t, err)

	return store, gateway.NewLocal(store, "alice")
}

func open(t *testing.T, gw document.Gateway, onRender func(content.Node)) *editor.Editor {
	t.Helper()

	e, err := editor.Open(context.Background(), editor.Config{
		DocumentID:       "doc1",
		Gateway:          gw,
		AutosaveInterval: time.Hour,
		OnRender:         onRender,
	})
	require.NoError(t, err)

	return e
}

func TestOpen_PrefersDraft(t *testing.T) {
	t.Parallel()

	store, gw := setup(t)

	_, err := store.SaveDraft(context.Background(), "doc1", document.Draft{
		Title:   "Draft title",
		Content: content.Doc(content.Paragraph(content.Text("draft"))),
	})
	require.NoError(t, err)

	e := open(t, gw, nil)
	defer e.Close(context.Background())

	require.Equal(t, "draft", content.PlainText(e.Content()))
	require.Equal(t, "Draft title", e.Title())
	require.Nil(t, e.Session())
}

func TestOpen_MissingDocument(t *testing.T) {
	t.Parallel()

	_, gw := setup(t)

	_, err := editor.Open(context.Background(), editor.Config{DocumentID: "missing", Gateway: gw})
	require.ErrorIs(t, err, document.ErrDocumentNotFound)

	_, err = editor.Open(context.Background(), editor.Config{DocumentID: "doc1"})
	require.Error(t, err)
}

func TestEditor_ApplyAndReplace(t *testing.T) {
	t.Parallel()

	_, gw := setup(t)

	e := open(t, gw, nil)
	defer e.Close(context.Background())

	require.NoError(t, e.Apply(content.NewInsert(0, "Hello")))
	require.Equal(t, "Hello", content.PlainText(e.Content()))

	err := e.Apply(content.NewDelete(10, 1))
	require.ErrorIs(t, err, content.ErrInvalidPosition)
	require.Equal(t, "Hello", content.PlainText(e.Content()), "a failed edit leaves the buffer unchanged")

	ops := e.Replace(content.Doc(content.Paragraph(content.Text("Help"))))
	require.Equal(t, []content.Operation{content.NewReplace(3, 2, "p")}, ops)

	ops = e.ReplaceHTML("<p><strong>Help</strong></p>")
	require.Empty(t, ops, "formatting-only changes have no text operations")
	require.Equal(t, "<p><strong>Help</strong></p>", e.HTML())

	// Without a session there is nobody to tell.
	require.False(t, e.SetActive(true))
}

func TestEditor_CloseSavesPendingEdits(t *testing.T) {
	t.Parallel()

	store, gw := setup(t)

	e := open(t, gw, nil)

	require.NoError(t, e.Apply(content.NewInsert(0, "Hello")))
	e.SetTitle("Greeting")
	require.NoError(t, e.Close(context.Background()))

	doc, err := store.GetDocument(context.Background(), "doc1")
	require.NoError(t, err)
	require.Equal(t, "Hello", content.PlainText(doc.LatestContent()))
	require.Equal(t, "Greeting", doc.LatestTitle())
	require.True(t, doc.HasUnsavedChanges)
}

func TestEditor_Publish(t *testing.T) {
	t.Parallel()

	store, gw := setup(t)

	e := open(t, gw, nil)
	defer e.Close(context.Background())

	require.NoError(t, e.Apply(content.NewInsert(0, "Hello")))

	res, err := e.Publish(context.Background(), true, "first pass")
	require.NoError(t, err)
	require.True(t, res.VersionCreated)
	require.Equal(t, 1, res.CurrentVersion)
	require.False(t, e.Status().HasUnsavedChanges)

	doc, err := store.GetDocument(context.Background(), "doc1")
	require.NoError(t, err)
	require.False(t, doc.HasDraft())
	require.Equal(t, "Hello", content.PlainText(doc.Content))
}

func TestEditor_DiscardRendersPublished(t *testing.T) {
	t.Parallel()

	_, gw := setup(t)

	var rendered []content.Node

	e := open(t, gw, func(doc content.Node) { rendered = append(rendered, doc) })
	defer e.Close(context.Background())

	require.NoError(t, e.Apply(content.NewInsert(0, "scratch")))

	_, err := e.Publish(context.Background(), false, "")
	require.NoError(t, err)

	require.NoError(t, e.Apply(content.NewInsert(7, " more")))
	require.NoError(t, e.Discard(context.Background()))

	require.Equal(t, "scratch", content.PlainText(e.Content()))
	require.Len(t, rendered, 1)
	require.Equal(t, "scratch", content.PlainText(rendered[0]))
}
