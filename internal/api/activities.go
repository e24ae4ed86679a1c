package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/issuance"
)

// ActivityCreateRequest is the request for creating an activity
type ActivityCreateRequest struct {
	Name           string `json:"name"`
	CourseID       int64  `json:"course_id"`
	CourseModuleID int64  `json:"course_module_id,omitempty"`
	TemplateID     string `json:"template_id"`
}

// IssueCreateRequest is the request for issuing a certificate
type IssueCreateRequest struct {
	UserID int64 `json:"user_id"`
}

// handleListActivities handles GET /api/v1/activities
func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	courseID, err := queryInt64(r, "course")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	activities, err := s.deps.Store.ListActivities(r.Context(), courseID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if activities == nil {
		activities = []*certificate.Activity{}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"activities": activities,
		"total":      len(activities),
	})
}

// handleCreateActivity handles POST /api/v1/activities
func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityCreateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	switch {
	case req.Name == "":
		s.fail(w, r, badRequest("name is required"))
		return
	case req.CourseID <= 0:
		s.fail(w, r, badRequest("course_id is required"))
		return
	case req.TemplateID == "":
		s.fail(w, r, badRequest("template_id is required"))
		return
	}

	a := &certificate.Activity{
		Name:           req.Name,
		CourseID:       req.CourseID,
		CourseModuleID: req.CourseModuleID,
		TemplateID:     req.TemplateID,
	}
	if err := s.deps.Store.CreateActivity(r.Context(), a); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, a)
}

// handleGetActivity handles GET /api/v1/activities/{id}
func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Store.GetActivity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, a)
}

// handleDeleteActivity handles DELETE /api/v1/activities/{id}
func (s *Server) handleDeleteActivity(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteActivity(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListIssues handles GET /api/v1/activities/{id}/issues
func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := s.deps.Issuance.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if issues == nil {
		issues = []*certificate.Issue{}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"issues": issues,
		"total":  len(issues),
	})
}

// handleCreateIssue handles POST /api/v1/activities/{id}/issues. Issuing
// twice returns the existing issue.
func (s *Server) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueCreateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.UserID <= 0 {
		s.fail(w, r, badRequest("user_id is required"))
		return
	}

	issue, err := s.deps.Issuance.Issue(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, issue)
}

// handleDownload handles GET /api/v1/activities/{id}/certificate?user=N
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := queryInt64(r, "user")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if userID == 0 {
		s.fail(w, r, badRequest("user is required"))
		return
	}

	activity, err := s.deps.Store.GetActivity(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	issue, rep, err := s.deps.Issuance.Download(ctx, activity.ID, userID, &buf)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, issuance.Filename(activity)))
	w.Header().Set("X-Certly-Code", issue.Code)
	w.Header().Set("X-Certly-Failures", strconv.Itoa(len(rep.Failures)))
	w.Write(buf.Bytes())
}

// handleGetIssue handles GET /api/v1/issues/{id}
func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.deps.Issuance.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, issue)
}

// handleDeleteIssue handles DELETE /api/v1/issues/{id}
func (s *Server) handleDeleteIssue(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Issuance.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
