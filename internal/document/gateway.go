package document

import (
	"context"
	"time"

	"github.com/serroba/smart-collab/internal/content"
)

// Draft is the unpublished state sent on autosave.
type Draft struct {
	Title   string       `json:"title"`
	Content content.Node `json:"content"`
}

// AutoSaveResult is returned by a successful autosave.
type AutoSaveResult struct {
	Message           string    `json:"message"`
	LastAutoSaveAt    time.Time `json:"last_auto_save_at"`
	HasUnsavedChanges bool      `json:"has_unsaved_changes"`
}

// PublishRequest asks for the draft to be promoted.
type PublishRequest struct {
	CreateVersion  bool   `json:"create_version"`
	VersionSummary string `json:"version_summary,omitempty"`
}

// PublishResult is returned by a successful publish.
type PublishResult struct {
	Message        string `json:"message"`
	VersionCreated bool   `json:"version_created"`
	CurrentVersion int    `json:"current_version"`
}

// DiscardResult is returned by a successful discard.
type DiscardResult struct {
	Message string `json:"message"`
}

// Gateway persists documents on behalf of the editor.
type Gateway interface {
	// GetDocument loads a document including any draft.
	GetDocument(ctx context.Context, id string) (*Document, error)

	// AutoSave stores draft as the document's unpublished state. The
	// result reports whether the draft differs from the published content.
	AutoSave(ctx context.Context, id string, draft Draft) (*AutoSaveResult, error)

	// PublishDraft promotes the draft to published content.
	PublishDraft(ctx context.Context, id string, req PublishRequest) (*PublishResult, error)

	// DiscardDraft deletes the draft, keeping the published content.
	DiscardDraft(ctx context.Context, id string) (*DiscardResult, error)
}
