// Package document holds the persisted document model shared by the
// editor client and the backend, and the gateway the client persists
// drafts through.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/serroba/smart-collab/internal/content"
)

// Common errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrNoDraft          = errors.New("document has no draft")
	ErrInvalidType      = errors.New("invalid document type")
)

// Type is the editor flavour of a document.
type Type string

const (
	TypePlainText      Type = "plain_text"
	TypeMarkdown       Type = "markdown"
	TypeRichText       Type = "rich_text"
	TypeVisualRichText Type = "visual_rich_text"
)

// DefaultType is used when a document is created without a type.
const DefaultType = TypeRichText

// Valid reports whether t is a known document type.
func (t Type) Valid() bool {
	switch t {
	case TypePlainText, TypeMarkdown, TypeRichText, TypeVisualRichText:
		return true
	default:
		return false
	}
}

// Status is the lifecycle status of a document.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
	StatusTemplate  Status = "template"
)

// Document is a stored document. Content is the published tree; the draft
// fields are set only while unpublished edits exist.
type Document struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	Content           content.Node  `json:"content"`
	DocumentType      Type          `json:"document_type"`
	Status            Status        `json:"status"`
	CurrentVersion    int           `json:"current_version"`
	DraftTitle        string        `json:"draft_title,omitempty"`
	DraftContent      *content.Node `json:"draft_content"`
	HasUnsavedChanges bool          `json:"has_unsaved_changes"`
	LastAutoSaveAt    *time.Time    `json:"last_auto_save_at,omitempty"`
	CreatedBy         string        `json:"created_by,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// HasDraft reports whether unpublished draft content exists.
func (d *Document) HasDraft() bool {
	return d.DraftContent != nil
}

// LatestContent is the content to edit: the draft when one exists,
// otherwise the published content.
func (d *Document) LatestContent() content.Node {
	if d.DraftContent != nil {
		return *d.DraftContent
	}

	return d.Content
}

// LatestTitle is the title to edit, preferring the draft title.
func (d *Document) LatestTitle() string {
	if d.DraftContent != nil && d.DraftTitle != "" {
		return d.DraftTitle
	}

	return d.Title
}

// UnmarshalJSON decodes a document, normalizing both content fields into
// document trees whatever shape they arrive in.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document

	var raw struct {
		plain
		Content      json.RawMessage `json:"content"`
		DraftContent json.RawMessage `json:"draft_content"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = Document(raw.plain)
	d.Content = content.Normalize(raw.Content)
	d.DraftContent = nil

	if draft := bytes.TrimSpace(raw.DraftContent); len(draft) > 0 && !bytes.Equal(draft, []byte("null")) {
		tree := content.Normalize(draft)
		d.DraftContent = &tree
	}

	return nil
}

// Version is an immutable published revision of a document.
type Version struct {
	Number    int          `json:"version_number"`
	Title     string       `json:"title"`
	Content   content.Node `json:"content"`
	Summary   string       `json:"summary,omitempty"`
	CreatedBy string       `json:"created_by,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// UnmarshalJSON decodes a version, normalizing its content.
func (v *Version) UnmarshalJSON(data []byte) error {
	type plain Version

	var raw struct {
		plain
		Content json.RawMessage `json:"content"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*v = Version(raw.plain)
	v.Content = content.Normalize(raw.Content)

	return nil
}
