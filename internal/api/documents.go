package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/serroba/smart-collab/internal/content"
	"github.com/serroba/smart-collab/internal/document"
	"github.com/serroba/smart-collab/internal/storage"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	ID           string        `json:"id,omitempty"`
	Title        string        `json:"title"`
	Content      *content.Node `json:"content,omitempty"`
	DocumentType document.Type `json:"document_type,omitempty"`
}

// handleCreateDocument handles POST /documents.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	if req.DocumentType != "" && !req.DocumentType.Valid() {
		http.Error(w, "invalid document type", http.StatusBadRequest)

		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	nd := storage.NewDocument{
		ID:           req.ID,
		Title:        req.Title,
		DocumentType: req.DocumentType,
		CreatedBy:    UserIDFromContext(r.Context()),
	}

	if req.Content != nil {
		nd.Content = *req.Content
	}

	doc, err := s.store.CreateDocument(r.Context(), nd)
	if err != nil {
		s.documentError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, doc)
}

// handleGetDocument handles GET /documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.documentError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, doc)
}

// handleDeleteDocument handles DELETE /documents/{id}. Only the creator
// may delete a document.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]

	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		s.documentError(w, err)

		return
	}

	if doc.CreatedBy != "" && doc.CreatedBy != UserIDFromContext(r.Context()) {
		http.Error(w, "access denied", http.StatusForbidden)

		return
	}

	if err := s.store.DeleteDocument(r.Context(), docID); err != nil {
		s.documentError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAutoSave handles POST /documents/{id}/autosave.
func (s *Server) handleAutoSave(w http.ResponseWriter, r *http.Request) {
	var draft document.Draft
	if err := decodeBody(r, &draft); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	doc, err := s.store.SaveDraft(r.Context(), mux.Vars(r)["id"], draft)
	if err != nil {
		s.documentError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, document.AutoSaveResult{
		Message:           "Draft saved",
		LastAutoSaveAt:    *doc.LastAutoSaveAt,
		HasUnsavedChanges: doc.HasUnsavedChanges,
	})
}

// handlePublish handles POST /documents/{id}/publish.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req document.PublishRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	doc, version, err := s.store.PublishDraft(r.Context(), mux.Vars(r)["id"], req, UserIDFromContext(r.Context()))
	if err != nil {
		s.documentError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, document.PublishResult{
		Message:        "Draft published",
		VersionCreated: version != nil,
		CurrentVersion: doc.CurrentVersion,
	})
}

// handleDiscardDraft handles DELETE /documents/{id}/draft.
func (s *Server) handleDiscardDraft(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.DiscardDraft(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.documentError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, document.DiscardResult{Message: "Draft discarded"})
}

// handleListVersions handles GET /documents/{id}/versions.
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.store.ListVersions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.documentError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, versions)
}

func (s *Server) documentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrDocumentNotFound):
		http.Error(w, "document not found", http.StatusNotFound)
	case errors.Is(err, document.ErrDocumentExists):
		http.Error(w, "document already exists", http.StatusConflict)
	case errors.Is(err, document.ErrNoDraft):
		http.Error(w, "no draft to publish", http.StatusConflict)
	default:
		s.log.WithError(err).Error("document request failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
