package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-audit/internal/common"
	"github.com/joseph-ayodele/invoice-audit/internal/core"
)

const (
	multipartMemory = 8 << 20
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// uploadedFile is one multipart file part read fully into memory.
type uploadedFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// handleSubmitAudit runs the whole pipeline before answering. The run is detached from the
// request so a client that goes away still leaves a terminal record behind.
func (s *Server) handleSubmitAudit(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, err := formFile(r, "invoice")
	if err != nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, "INVALID_MULTIPART", "Could not read invoice file", err)
		return
	}

	ctx, cancel := common.Detach(r.Context(), s.processTimeout)
	defer cancel()

	rec, err := s.auditor.SubmitAudit(ctx, core.SubmitAuditRequest{
		ContractID:  strings.TrimSpace(r.FormValue("contract_id")),
		Invoice:     file.Data,
		FileName:    file.Name,
		ContentType: file.ContentType,
		CallerID:    common.CallerIDFromContext(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	recs, err := s.auditor.ListAudits(r.Context(), strings.TrimSpace(r.URL.Query().Get("contract_id")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "auditID"))
	if err != nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, "INVALID_AUDIT_ID", "audit id must be a UUID", err)
		return
	}
	rec, err := s.auditor.GetAudit(r.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.writeErrorStatus(w, r, http.StatusNotFound, "AUDIT_NOT_FOUND", "Audit not found", err)
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleExportAudits(w http.ResponseWriter, r *http.Request) {
	contractID := strings.TrimSpace(r.URL.Query().Get("contract_id"))
	if contractID == "" {
		s.writeErrorStatus(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "contract_id is required", common.ErrValidation)
		return
	}
	data, err := s.exporter.ExportAuditsXLSX(r.Context(), contractID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audits-%s.xlsx"`, safeFileToken(contractID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseMultipart bounds the body and parses the form, answering the request itself on failure.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorStatus(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				fmt.Sprintf("upload exceeds %d bytes", s.maxUploadBytes), err)
			return false
		}
		s.writeErrorStatus(w, r, http.StatusBadRequest, "INVALID_MULTIPART", "Request must be multipart/form-data", err)
		return false
	}
	return true
}

// formFile reads the named part. A missing part yields an empty file so field validation
// can report it alongside the other fields.
func formFile(r *http.Request, field string) (uploadedFile, error) {
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return uploadedFile{}, nil
	}
	if err != nil {
		return uploadedFile{}, err
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return uploadedFile{}, err
	}
	return uploadedFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func safeFileToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
