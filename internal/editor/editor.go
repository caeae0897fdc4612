// Package editor ties an open document together: the local buffer, the
// autosave manager and the optional collaboration session.
package editor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serroba/smart-collab/internal/autosave"
	"github.com/serroba/smart-collab/internal/buffer"
	"github.com/serroba/smart-collab/internal/collab"
	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/document"
	"github.com/serroba/smart-collab/internal/logging"
	"github.com/serroba/smart-collab/internal/presence"
	"github.com/sirupsen/logrus"
)

// Config holds configuration for opening a document.
type Config struct {
	DocumentID string
	Gateway    document.Gateway

	// Collab joins a room when set. Its OnRemoteChange is called after the
	// change has been applied.
	Collab *collab.Config

	AutosaveInterval time.Duration // autosave.DefaultInterval when zero
	SaveTimeout      time.Duration // autosave.DefaultTimeout when zero

	// OnRender is called with the new tree after a remote change or a
	// discard.
	OnRender func(content.Node)
	OnStatus func(autosave.State, autosave.Status)

	Logger *logrus.Entry
	Now    func() time.Time
}

// Editor is one open document.
type Editor struct {
	doc      *document.Document
	buf      *buffer.Buffer
	saver    *autosave.Manager
	session  *collab.Session
	onRender func(content.Node)
	log      *logrus.Entry
}

// Open loads the document, preferring its draft, and starts autosaving.
// With a collaboration config it also connects to the room.
func Open(ctx context.Context, cfg Config) (*Editor, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("editor: gateway is required")
	}

	doc, err := cfg.Gateway.GetDocument(ctx, cfg.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", cfg.DocumentID, err)
	}

	log := logging.OrDiscard(cfg.Logger).WithField("document_id", cfg.DocumentID)

	e := &Editor{
		doc:      doc,
		buf:      buffer.New(doc.LatestTitle(), doc.LatestContent()),
		onRender: cfg.OnRender,
		log:      log,
	}

	e.saver = autosave.NewManager(autosave.Config{
		DocumentID: cfg.DocumentID,
		Gateway:    cfg.Gateway,
		Buffer:     e.buf,
		Timeout:    cfg.SaveTimeout,
		OnStatus:   cfg.OnStatus,
		Logger:     log,
		Now:        cfg.Now,
	})

	if cfg.Collab != nil {
		sc := *cfg.Collab
		next := sc.OnRemoteChange
		sc.OnRemoteChange = func(rc collab.RemoteChange) {
			e.applyRemote(rc)

			if next != nil {
				next(rc)
			}
		}

		if sc.Logger == nil {
			sc.Logger = log
		}

		e.session = collab.NewSession(sc)

		if err := e.session.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect to room: %w", err)
		}
	}

	e.saver.Start(cfg.AutosaveInterval)

	return e, nil
}

// Document returns the document as loaded.
func (e *Editor) Document() *document.Document {
	return e.doc
}

// Content returns the current tree.
func (e *Editor) Content() content.Node {
	return e.buf.Content()
}

// Title returns the current title.
func (e *Editor) Title() string {
	return e.buf.Title()
}

// Status returns the autosave status.
func (e *Editor) Status() autosave.Status {
	return e.saver.Status()
}

// Session returns the collaboration session, nil when editing alone.
func (e *Editor) Session() *collab.Session {
	return e.session
}

// Apply applies a local edit and broadcasts it.
func (e *Editor) Apply(op content.Operation) error {
	var applyErr error

	e.buf.Update(func(s buffer.State) buffer.State {
		next, err := content.Apply(s.Content, op)

		applyErr = err
		if err != nil {
			return s
		}

		s.Content = next

		return s
	})

	if applyErr != nil {
		return applyErr
	}

	e.broadcast(op)

	return nil
}

// Replace swaps in a whole new tree and broadcasts the text operations
// that lead to it.
func (e *Editor) Replace(doc content.Node) []content.Operation {
	var ops []content.Operation

	e.buf.Update(func(s buffer.State) buffer.State {
		ops = content.Diff(s.Content, doc)
		s.Content = doc

		return s
	})

	for _, op := range ops {
		e.broadcast(op)
	}

	return ops
}

// ReplaceHTML decodes an editing surface and replaces the content with it.
func (e *Editor) ReplaceHTML(surface string) []content.Operation {
	return e.Replace(content.Decode(content.ParseHTML(surface)))
}

// HTML renders the current content as an editing surface.
func (e *Editor) HTML() string {
	return content.Render(content.Encode(e.buf.Content()))
}

// SetTitle changes the title. Titles are saved, not broadcast.
func (e *Editor) SetTitle(title string) {
	e.buf.SetTitle(title)
}

// MoveCursor broadcasts the local caret and selection.
func (e *Editor) MoveCursor(cursor presence.Cursor, selection *presence.Selection) bool {
	if e.session == nil {
		return false
	}

	return e.session.SendCursorPosition(cursor, selection)
}

// SetActive broadcasts whether the local user is active.
func (e *Editor) SetActive(active bool) bool {
	if e.session == nil {
		return false
	}

	return e.session.SendPresence(active)
}

// Publish saves pending edits and publishes the draft.
func (e *Editor) Publish(ctx context.Context, createVersion bool, summary string) (*document.PublishResult, error) {
	return e.saver.PublishDraft(ctx, createVersion, summary)
}

// Discard drops the draft and reloads the published content.
func (e *Editor) Discard(ctx context.Context) error {
	if _, err := e.saver.DiscardDraft(ctx); err != nil {
		return err
	}

	e.render(e.buf.Content())

	return nil
}

// Close stops autosaving, saves any pending edits and leaves the room.
func (e *Editor) Close(ctx context.Context) error {
	e.saver.Stop()

	_, err := e.saver.ForceSave(ctx)

	if e.session != nil {
		e.session.Disconnect()
	}

	return err
}

func (e *Editor) broadcast(op content.Operation) {
	if e.session == nil {
		return
	}

	if !e.session.SendTextChange(op) {
		e.log.WithField("operation", op.Type).Debug("edit not broadcast, session inactive")
	}
}

func (e *Editor) applyRemote(rc collab.RemoteChange) {
	var applyErr error

	next := e.buf.Update(func(s buffer.State) buffer.State {
		doc, err := content.Apply(s.Content, rc.Operation)

		applyErr = err
		if err != nil {
			return s
		}

		s.Content = doc

		return s
	})

	if applyErr != nil {
		e.log.WithError(applyErr).WithFields(logrus.Fields{
			"user_id":  rc.UserID,
			"position": rc.Operation.Position,
		}).Warn("dropping remote change")

		return
	}

	e.render(next.Content)
}

func (e *Editor) render(doc content.Node) {
	if e.onRender != nil {
		e.onRender(doc)
	}
}
