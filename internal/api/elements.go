package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/form"
)

// ElementRequest is the request for adding or updating an element. Values
// are the submitted form values keyed by field key.
type ElementRequest struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Values map[string]any `json:"values"`
}

// ElementType describes a registered element type
type ElementType struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// ElementSchemaResponse is the form of one element type
type ElementSchemaResponse struct {
	Type   string       `json:"type"`
	Title  string       `json:"title"`
	Fields []form.Field `json:"fields"`
}

// handleElementTypes handles GET /api/v1/element-types
func (s *Server) handleElementTypes(w http.ResponseWriter, r *http.Request) {
	handlers := s.deps.Registry.Handlers()
	types := make([]ElementType, len(handlers))
	for i, h := range handlers {
		types[i] = ElementType{Type: h.Type(), Title: h.Title()}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"types": types})
}

// handleElementSchema handles GET /api/v1/element-types/{type}
func (s *Server) handleElementSchema(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Registry.Get(chi.URLParam(r, "type"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var subject element.Subject
	courseID, err := queryInt64(r, "course")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if courseID > 0 {
		if subject.Course, err = s.deps.Env.Directory.Course(r.Context(), courseID); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	s.sendJSON(w, http.StatusOK, ElementSchemaResponse{
		Type:   h.Type(),
		Title:  h.Title(),
		Fields: element.Schema(r.Context(), h, s.deps.Env, subject),
	})
}

// values converts decoded JSON into form values. Null drops the key.
func (req ElementRequest) values() (form.Values, error) {
	v := make(form.Values, len(req.Values)+1)
	for key, raw := range req.Values {
		if raw == nil {
			continue
		}
		s, ok := codec.AsString(raw)
		if !ok {
			return nil, badRequest("value of " + key + " must be a scalar")
		}
		v[key] = s
	}
	if req.Name != "" {
		v["name"] = req.Name
	}
	return v, nil
}

// handleAddElement handles POST /api/v1/templates/{id}/pages/{pageID}/elements
func (s *Server) handleAddElement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ElementRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	h, err := s.deps.Registry.Get(req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	values, err := req.values()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	tmpl, err := s.deps.Store.GetTemplate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := tmpl.Page(chi.URLParam(r, "pageID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	e := &certificate.Element{}
	if err := element.Apply(ctx, h, s.deps.Env, page, e, values); err != nil {
		s.fail(w, r, err)
		return
	}
	e, err = s.deps.Store.AddElement(ctx, tmpl.ID, page.ID, e)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, e)
}

// handleUpdateElement handles PUT /api/v1/templates/{id}/elements/{elementID}.
// The type of an element cannot change.
func (s *Server) handleUpdateElement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ElementRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	values, err := req.values()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	tmpl, err := s.deps.Store.GetTemplate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, existing, err := tmpl.Element(chi.URLParam(r, "elementID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Type != "" && req.Type != existing.Type {
		s.fail(w, r, badRequest("element type cannot be changed"))
		return
	}
	h, err := s.deps.Registry.Get(existing.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	e := *existing
	if err := element.Apply(ctx, h, s.deps.Env, page, &e, values); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Store.UpdateElement(ctx, tmpl.ID, &e); err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, &e)
}

// handleDeleteElement handles DELETE /api/v1/templates/{id}/elements/{elementID}
func (s *Server) handleDeleteElement(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteElement(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "elementID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
