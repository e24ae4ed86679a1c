package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/element"
)

// TemplateCreateRequest is the request for creating a template
type TemplateCreateRequest struct {
	Name         string `json:"name"`
	ContextLevel string `json:"context_level,omitempty"`
	CourseID     int64  `json:"course_id,omitempty"`
}

// TemplateUpdateRequest is the request for renaming a template
type TemplateUpdateRequest struct {
	Name string `json:"name"`
}

// TemplateSummary is a template without its pages
type TemplateSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ContextLevel string    `json:"context_level"`
	CourseID     int64     `json:"course_id,omitempty"`
	Pages        int       `json:"pages"`
	Version      int       `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TemplateListResponse is the response for listing templates
type TemplateListResponse struct {
	Templates []*TemplateSummary `json:"templates"`
	Total     int                `json:"total"`
}

// PageRequest is the request for adding or updating a page
type PageRequest struct {
	Sequence    int     `json:"sequence,omitempty"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	LeftMargin  float64 `json:"left_margin"`
	RightMargin float64 `json:"right_margin"`
}

func summarise(t *certificate.Template) *TemplateSummary {
	return &TemplateSummary{
		ID:           t.ID,
		Name:         t.Name,
		ContextLevel: t.ContextLevel,
		CourseID:     t.CourseID,
		Pages:        len(t.Pages),
		Version:      t.Version,
		UpdatedAt:    t.UpdatedAt,
	}
}

// handleListTemplates handles GET /api/v1/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	filter := certificate.ListFilter{
		Search: r.URL.Query().Get("search"),
	}

	if r.URL.Query().Has("course") {
		courseID, err := queryInt64(r, "course")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		filter.CourseID = &courseID
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset > 0 {
			filter.Offset = offset
		}
	}

	templates, err := s.deps.Store.ListTemplates(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	response := TemplateListResponse{
		Templates: make([]*TemplateSummary, len(templates)),
		Total:     len(templates),
	}
	for i, tmpl := range templates {
		response.Templates[i] = summarise(tmpl)
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleCreateTemplate handles POST /api/v1/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateCreateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	tmpl := &certificate.Template{
		Name:         req.Name,
		ContextLevel: req.ContextLevel,
		CourseID:     req.CourseID,
		Pages:        []*certificate.Page{certificate.NewPage()},
	}
	if err := s.deps.Store.CreateTemplate(r.Context(), tmpl); err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sendJSON(w, http.StatusCreated, tmpl)
}

// handleGetTemplate handles GET /api/v1/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.deps.Store.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, tmpl)
}

// handleUpdateTemplate handles PUT /api/v1/templates/{id}
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateUpdateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	tmpl, err := s.deps.Store.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), func(t *certificate.Template) error {
		t.Name = req.Name
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, tmpl)
}

// handleDeleteTemplate handles DELETE /api/v1/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDuplicateTemplate handles POST /api/v1/templates/{id}/duplicate
func (s *Server) handleDuplicateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateUpdateRequest
	if r.ContentLength > 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	tmpl, err := s.deps.Store.DuplicateTemplate(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, tmpl)
}

// handleAddPage handles POST /api/v1/templates/{id}/pages
func (s *Server) handleAddPage(w http.ResponseWriter, r *http.Request) {
	page := certificate.NewPage()
	if r.ContentLength > 0 {
		var req PageRequest
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		if err := applyPage(page, req); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	page, err := s.deps.Store.AddPage(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, page)
}

// handleUpdatePage handles PUT /api/v1/templates/{id}/pages/{pageID}
func (s *Server) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	page := &certificate.Page{ID: chi.URLParam(r, "pageID")}
	if err := applyPage(page, req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Store.UpdatePage(r.Context(), chi.URLParam(r, "id"), page); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, page)
}

func applyPage(page *certificate.Page, req PageRequest) error {
	if req.Width < 0 || req.Height < 0 || req.LeftMargin < 0 || req.RightMargin < 0 {
		return badRequest("page sizes must not be negative")
	}
	if req.Width > 0 && req.LeftMargin+req.RightMargin >= req.Width {
		return badRequest("margins leave no room on the page")
	}
	page.Sequence = req.Sequence
	if req.Width > 0 {
		page.Width = req.Width
	}
	if req.Height > 0 {
		page.Height = req.Height
	}
	page.LeftMargin = req.LeftMargin
	page.RightMargin = req.RightMargin
	return nil
}

// handleDeletePage handles DELETE /api/v1/templates/{id}/pages/{pageID}
func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeletePage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "pageID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreviewPDF handles GET /api/v1/templates/{id}/preview. With user
// and course set the preview shows that learner's values.
func (s *Server) handlePreviewPDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tmpl, err := s.deps.Store.GetTemplate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var subject element.Subject
	userID, err := queryInt64(r, "user")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	courseID, err := queryInt64(r, "course")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if userID > 0 {
		if subject.User, err = s.deps.Env.Directory.User(ctx, userID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if courseID == 0 {
		courseID = tmpl.CourseID
	}
	if courseID > 0 {
		if subject.Course, err = s.deps.Env.Directory.Course(ctx, courseID); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	var buf bytes.Buffer
	if _, err := s.deps.Renderer.PDF(ctx, tmpl, subject, true, &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="preview.pdf"`)
	w.Write(buf.Bytes())
}

// handlePreviewMarkup handles GET /api/v1/templates/{id}/pages/{pageID}/preview
func (s *Server) handlePreviewMarkup(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.deps.Store.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if _, err := s.deps.Renderer.Markup(r.Context(), tmpl, chi.URLParam(r, "pageID"), &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
