package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/certly/internal/filestore"
)

// handleUploadFile handles POST /api/v1/files. The file is sent as the
// multipart field "file".
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Files == nil {
		s.sendError(w, http.StatusServiceUnavailable, "File storage is not configured")
		return
	}
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, err)
			return
		}
		s.fail(w, r, badRequest("multipart field file is required"))
		return
	}
	defer f.Close()

	mimeType := filestore.MimeTypeFor(header.Filename)
	if sent := header.Header.Get("Content-Type"); mimeType == "application/octet-stream" && sent != "" {
		mimeType = sent
	}

	ref, err := s.deps.Files.Put(r.Context(), header.Filename, mimeType, f)
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to store file: %w", err))
		return
	}
	s.sendJSON(w, http.StatusCreated, ref)
}

// handleGetFile handles GET /api/v1/files/{id}
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Files == nil {
		s.sendError(w, http.StatusServiceUnavailable, "File storage is not configured")
		return
	}
	rc, ref, err := s.deps.Files.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer rc.Close()

	if ref.MimeType != "" {
		w.Header().Set("Content-Type", ref.MimeType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(ref.Size, 10))
	io.Copy(w, rc)
}
