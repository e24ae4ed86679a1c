package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/certly/internal/archive"
	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/issuance"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/metrics"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error  string      `json:"error"`
	Fields form.Errors `json:"fields,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  time.Since(s.startTime).String(),
	})
}

// handleVerify handles GET /verify/{code}
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Issuance.Verify(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, v)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// fail maps err to a status code and sends it
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	metrics.IncAPIErrors(kind)

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		s.sendError(w, status, "Internal server error")
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	var fe form.Errors
	if errors.As(err, &fe) {
		resp.Error = "Invalid form values"
		resp.Fields = fe
	}
	s.sendJSON(w, status, resp)
}

func classify(err error) (int, string) {
	var (
		fe        form.Errors
		schemaErr *archive.SchemaError
		tooLarge  *http.MaxBytesError
	)
	switch {
	case errors.As(err, &fe):
		return http.StatusUnprocessableEntity, "validation"
	case errors.As(err, &schemaErr):
		return http.StatusUnprocessableEntity, "schema"
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, issuance.ErrInvalidCode):
		return http.StatusNotFound, "invalid_code"
	case errors.Is(err, issuance.ErrNotEnrolled):
		return http.StatusForbidden, "not_enrolled"
	case errors.Is(err, certificate.ErrNotFound),
		errors.Is(err, lms.ErrNotFound),
		errors.Is(err, filestore.ErrNotFound),
		errors.Is(err, issuance.ErrUnknownLearner):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, certificate.ErrInUse):
		return http.StatusConflict, "conflict"
	case errors.Is(err, element.ErrUnknownType),
		errors.Is(err, archive.ErrInvalidArchive),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "internal"
}

var errBadRequest = errors.New("bad request")

// badRequest wraps a client mistake
type badRequest string

func (b badRequest) Error() string { return string(b) }
func (b badRequest) Unwrap() error { return errBadRequest }

// decode reads a JSON request body into v
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("Invalid request body")
	}
	return nil
}

// queryInt64 parses an optional numeric query parameter
func queryInt64(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, badRequest(key + " must be a positive number")
	}
	return n, nil
}
