package storage

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/document"
)

// documentData holds all persisted data for a single document.
type documentData struct {
	doc      document.Document
	versions []document.Version
}

// MemoryStore is an in-memory implementation of the Store interface.
// Useful for testing and development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*documentData
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*documentData),
		now:  time.Now,
	}
}

// CreateDocument stores a new document.
func (m *MemoryStore) CreateDocument(_ context.Context, nd NewDocument) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[nd.ID]; exists {
		return nil, document.ErrDocumentExists
	}

	data := &documentData{doc: *newDocument(nd, m.now())}
	m.docs[nd.ID] = data

	return copyDocument(&data.doc), nil
}

// GetDocument returns a copy of the document.
func (m *MemoryStore) GetDocument(_ context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.docs[id]
	if !exists {
		return nil, document.ErrDocumentNotFound
	}

	return copyDocument(&data.doc), nil
}

// SaveDraft replaces the draft of a document.
func (m *MemoryStore) SaveDraft(_ context.Context, id string, draft document.Draft) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, exists := m.docs[id]
	if !exists {
		return nil, document.ErrDocumentNotFound
	}

	applyDraft(&data.doc, draft, m.now())

	return copyDocument(&data.doc), nil
}

// PublishDraft promotes the draft to published content.
func (m *MemoryStore) PublishDraft(_ context.Context, id string, req document.PublishRequest, publishedBy string) (*document.Document, *document.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, exists := m.docs[id]
	if !exists {
		return nil, nil, document.ErrDocumentNotFound
	}

	version, err := promote(&data.doc, req, publishedBy, m.now())
	if err != nil {
		return nil, nil, err
	}

	if version != nil {
		data.versions = append(data.versions, *version)
	}

	return copyDocument(&data.doc), version, nil
}

// DiscardDraft drops the draft of a document.
func (m *MemoryStore) DiscardDraft(_ context.Context, id string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, exists := m.docs[id]
	if !exists {
		return nil, document.ErrDocumentNotFound
	}

	clearDraft(&data.doc)
	data.doc.UpdatedAt = m.now()

	return copyDocument(&data.doc), nil
}

// ListVersions returns the recorded versions, oldest first.
func (m *MemoryStore) ListVersions(_ context.Context, id string) ([]document.Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.docs[id]
	if !exists {
		return nil, document.ErrDocumentNotFound
	}

	versions := make([]document.Version, len(data.versions))
	for i, v := range data.versions {
		versions[i] = v
		versions[i].Content = content.Clone(v.Content)
	}

	return versions, nil
}

// DeleteDocument removes a document and its versions.
func (m *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[id]; !exists {
		return document.ErrDocumentNotFound
	}

	delete(m.docs, id)

	return nil
}

func copyDocument(doc *document.Document) *document.Document {
	out := *doc
	out.Content = content.Clone(doc.Content)

	if doc.DraftContent != nil {
		draft := content.Clone(*doc.DraftContent)
		out.DraftContent = &draft
	}

	if doc.LastAutoSaveAt != nil {
		at := *doc.LastAutoSaveAt
		out.LastAutoSaveAt = &at
	}

	return &out
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
