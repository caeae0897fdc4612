package gateway

import (
	"context"

	"github.com/serroba/smart-collab/internal/document"
	"github.com/serroba/smart-collab/internal/storage"
)

// Local serves the editor straight from a store, without a server in
// between.
type Local struct {
	store  storage.Store
	userID string
}

// NewLocal creates a gateway over store acting as userID.
func NewLocal(store storage.Store, userID string) *Local {
	return &Local{store: store, userID: userID}
}

// GetDocument loads a document including any draft.
func (l *Local) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return l.store.GetDocument(ctx, id)
}

// AutoSave stores the draft.
func (l *Local) AutoSave(ctx context.Context, id string, draft document.Draft) (*document.AutoSaveResult, error) {
	doc, err := l.store.SaveDraft(ctx, id, draft)
	if err != nil {
		return nil, err
	}

	return &document.AutoSaveResult{
		Message:           "Draft saved",
		LastAutoSaveAt:    *doc.LastAutoSaveAt,
		HasUnsavedChanges: doc.HasUnsavedChanges,
	}, nil
}

// PublishDraft promotes the draft to published content.
func (l *Local) PublishDraft(ctx context.Context, id string, req document.PublishRequest) (*document.PublishResult, error) {
	doc, version, err := l.store.PublishDraft(ctx, id, req, l.userID)
	if err != nil {
		return nil, err
	}

	return &document.PublishResult{
		Message:        "Draft published",
		VersionCreated: version != nil,
		CurrentVersion: doc.CurrentVersion,
	}, nil
}

// DiscardDraft deletes the draft.
func (l *Local) DiscardDraft(ctx context.Context, id string) (*document.DiscardResult, error) {
	if _, err := l.store.DiscardDraft(ctx, id); err != nil {
		return nil, err
	}

	return &document.DiscardResult{Message: "Draft discarded"}, nil
}

// Ensure Local implements document.Gateway.
var _ document.Gateway = (*Local)(nil)
