package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/foxzi/certly/internal/archive"
	"github.com/foxzi/certly/internal/element"
)

// ExportRequest is the request for exporting templates
type ExportRequest struct {
	TemplateIDs []string `json:"template_ids"`
}

// handleExport handles POST /api/v1/export. The archive is built in
// memory so failures still get a JSON error.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.TemplateIDs) == 0 {
		s.fail(w, r, badRequest("template_ids is required"))
		return
	}

	var buf bytes.Buffer
	rep, err := s.deps.Archiver.Export(r.Context(), req.TemplateIDs, &buf)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="certly-templates.zip"`)
	w.Header().Set("X-Certly-Skipped", strconv.Itoa(len(rep.Skipped)))
	w.Write(buf.Bytes())
}

// handleImport handles POST /api/v1/import. The body is the archive;
// course places the templates and every map parameter adds an id mapping
// such as module:4=40.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	courseID, err := queryInt64(r, "course")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rc := element.NewRestoreContext(courseID)
	for _, m := range r.URL.Query()["map"] {
		if err := archive.ParseMapping(rc, m); err != nil {
			s.fail(w, r, badRequest(err.Error()))
			return
		}
	}

	body := r.Body
	if s.deps.ArchiveMaxSize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.deps.ArchiveMaxSize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		s.fail(w, r, fmt.Errorf("failed to read archive: %w", err))
		return
	}
	if len(data) == 0 {
		s.fail(w, r, badRequest("archive is empty"))
		return
	}

	rep, err := s.deps.Archiver.Import(r.Context(), bytes.NewReader(data), int64(len(data)), archive.ImportOptions{
		CourseID: courseID,
		Restore:  rc,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, rep)
}
