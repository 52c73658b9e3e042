package server

import (
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/invoice-audit/internal/core"
)

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	isPrimary := false
	if raw := strings.TrimSpace(r.FormValue("is_primary")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeErrorStatus(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "is_primary must be a boolean", err)
			return
		}
		isPrimary = v
	}
	file, err := formFile(r, "document")
	if err != nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, "INVALID_MULTIPART", "Could not read document file", err)
		return
	}

	doc, err := s.documents.UploadDocument(r.Context(), core.UploadDocumentRequest{
		ContractID:  strings.TrimSpace(chi.URLParam(r, "contractID")),
		Data:        file.Data,
		FileName:    file.Name,
		ContentType: file.ContentType,
		IsPrimary:   isPrimary,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.ListDocuments(r.Context(), strings.TrimSpace(chi.URLParam(r, "contractID")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}
