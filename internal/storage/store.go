// Package storage persists documents with their drafts and published
// versions.
package storage

import (
	"context"
	"time"

	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/document"
)

// NewDocument describes a document to create.
type NewDocument struct {
	ID           string
	Title        string
	Content      content.Node
	DocumentType document.Type
	CreatedBy    string
}

// Store defines the interface for persisting documents.
// Implementations can use in-memory storage, databases, or other backends.
type Store interface {
	// CreateDocument stores a new published document at version 0.
	// Returns document.ErrDocumentExists if the id is taken.
	CreateDocument(ctx context.Context, doc NewDocument) (*document.Document, error)

	// GetDocument returns the document with its draft state.
	// Returns document.ErrDocumentNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*document.Document, error)

	// SaveDraft replaces the draft of a document.
	SaveDraft(ctx context.Context, id string, draft document.Draft) (*document.Document, error)

	// PublishDraft promotes the draft to published content. When requested,
	// it records an immutable version and returns it.
	// Returns document.ErrNoDraft if there is nothing to publish.
	PublishDraft(ctx context.Context, id string, req document.PublishRequest, publishedBy string) (*document.Document, *document.Version, error)

	// DiscardDraft drops the draft, keeping the published content.
	DiscardDraft(ctx context.Context, id string) (*document.Document, error)

	// ListVersions returns the recorded versions, oldest first.
	ListVersions(ctx context.Context, id string) ([]document.Version, error)

	// DeleteDocument removes a document and its versions.
	DeleteDocument(ctx context.Context, id string) error
}

func newDocument(nd NewDocument, now time.Time) *document.Document {
	docType := nd.DocumentType
	if docType == "" {
		docType = document.DefaultType
	}

	doc := nd.Content
	if doc.Type != content.KindDoc || len(doc.Content) == 0 {
		doc = content.EmptyDoc()
	}

	return &document.Document{
		ID:           nd.ID,
		Title:        nd.Title,
		Content:      doc,
		DocumentType: docType,
		Status:       document.StatusDraft,
		CreatedBy:    nd.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// applyDraft records a draft on doc. The document has unsaved changes when
// the draft differs from what is published.
func applyDraft(doc *document.Document, draft document.Draft, now time.Time) {
	tree := content.Clone(draft.Content)
	if tree.Type != content.KindDoc || len(tree.Content) == 0 {
		tree = content.EmptyDoc()
	}

	doc.DraftTitle = draft.Title
	doc.DraftContent = &tree
	doc.HasUnsavedChanges = !content.Equal(tree, doc.Content) || (draft.Title != "" && draft.Title != doc.Title)
	doc.LastAutoSaveAt = &now
	doc.UpdatedAt = now
}

// promote publishes the draft of doc. Only a requested version bumps the
// version counter.
func promote(doc *document.Document, req document.PublishRequest, publishedBy string, now time.Time) (*document.Version, error) {
	if !doc.HasDraft() {
		return nil, document.ErrNoDraft
	}

	doc.Content = *doc.DraftContent
	if doc.DraftTitle != "" {
		doc.Title = doc.DraftTitle
	}

	clearDraft(doc)
	doc.Status = document.StatusPublished
	doc.UpdatedAt = now

	if !req.CreateVersion {
		return nil, nil
	}

	doc.CurrentVersion++

	return &document.Version{
		Number:    doc.CurrentVersion,
		Title:     doc.Title,
		Content:   content.Clone(doc.Content),
		Summary:   req.VersionSummary,
		CreatedBy: publishedBy,
		CreatedAt: now,
	}, nil
}

func clearDraft(doc *document.Document) {
	doc.DraftTitle = ""
	doc.DraftContent = nil
	doc.HasUnsavedChanges = false
}
