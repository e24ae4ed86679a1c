package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/certly/internal/archive"
	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/config"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/element/types"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/issuance"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/metrics"
	"github.com/foxzi/certly/internal/ratelimit"
	"github.com/foxzi/certly/internal/render"
)

func setupTestServer(t *testing.T, cfg *config.APIConfig) *Server {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := certificate.Open(filepath.Join(dir, "certly.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	files, err := filestore.NewLocal(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	directory := lms.NewMemory(&lms.Fixtures{
		Users:      []*lms.User{{ID: 2, FirstName: "Ada", LastName: "Lovelace"}},
		Courses:    []*lms.Course{{ID: 10, FullName: "Analytical Engines"}},
		Enrolments: []*lms.Enrolment{{CourseID: 10, UserID: 2, Role: "student"}},
	})

	registry := types.NewRegistry()
	env := &element.Env{Directory: directory, Files: files, VerifyURL: "https://certs.example.com/verify"}
	renderer := render.New(registry, env, render.Options{Creator: "certly"}, logger)

	if cfg == nil {
		cfg = &config.APIConfig{ListenAddr: ":8080"}
	}
	return NewServer(Deps{
		Store:          store,
		Registry:       registry,
		Env:            env,
		Renderer:       renderer,
		Archiver:       archive.New(store, registry, env, logger),
		Issuance:       issuance.New(store, directory, renderer, issuance.Config{}, logger),
		Files:          files,
		ArchiveMaxSize: 1 << 20,
		Version:        "test",
	}, cfg, logger)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func createTemplate(t *testing.T, s *Server) *certificate.Template {
	t.Helper()
	w := do(t, s, "POST", "/api/v1/templates", TemplateCreateRequest{Name: "Completion", ContextLevel: "course", CourseID: 10})
	if w.Code != http.StatusCreated {
		t.Fatalf("create template: Status = %d, body = %s", w.Code, w.Body.String())
	}
	var tmpl certificate.Template
	decodeBody(t, w, &tmpl)
	if len(tmpl.Pages) != 1 {
		t.Fatalf("new template has %d pages, want 1", len(tmpl.Pages))
	}
	return &tmpl
}

func addElement(t *testing.T, s *Server, tmpl *certificate.Template, req ElementRequest) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, s, "POST", "/api/v1/templates/"+tmpl.ID+"/pages/"+tmpl.Pages[0].ID+"/elements", req)
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t, nil)

	w := do(t, server, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hashed-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}

	tests := []struct {
		name       string
		cfg        *config.APIConfig
		header     string
		value      string
		wantStatus int
	}{
		{"no key configured", &config.APIConfig{}, "", "", http.StatusOK},
		{"missing key", &config.APIConfig{APIKey: "test-key"}, "", "", http.StatusUnauthorized},
		{"wrong key", &config.APIConfig{APIKey: "test-key"}, "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"bearer", &config.APIConfig{APIKey: "test-key"}, "Authorization", "Bearer test-key", http.StatusOK},
		{"x-api-key", &config.APIConfig{APIKey: "test-key"}, "X-API-Key", "test-key", http.StatusOK},
		{"hash", &config.APIConfig{APIKeyHash: string(hash)}, "Authorization", "Bearer hashed-key", http.StatusOK},
		{"hash wrong key", &config.APIConfig{APIKeyHash: string(hash)}, "Authorization", "Bearer test-key", http.StatusUnauthorized},
		{"ip not allowed", &config.APIConfig{AllowedIPs: []string{"10.0.0.0/8"}}, "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := setupTestServer(t, tt.cfg)
			req := httptest.NewRequest("GET", "/api/v1/templates", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestVerifyIsPublic(t *testing.T) {
	server := setupTestServer(t, &config.APIConfig{APIKey: "test-key"})

	w := do(t, server, "GET", "/verify/NOPE1234", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestVerifyRateLimit(t *testing.T) {
	server := setupTestServer(t, nil)
	limiter, err := ratelimit.NewLimiter(server.deps.Store.DB(), &ratelimit.Config{
		PerIP: &ratelimit.Limits{PerHour: 2},
	})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	t.Cleanup(func() { limiter.Stop() })
	server.deps.Limiter = limiter

	for i := 0; i < 2; i++ {
		if w := do(t, server, "GET", "/verify/NOPE1234", nil); w.Code != http.StatusNotFound {
			t.Fatalf("lookup %d: Status = %d, want %d", i+1, w.Code, http.StatusNotFound)
		}
	}

	w := do(t, server, "GET", "/verify/NOPE1234", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// the limit covers the public endpoint only
	if w := do(t, server, "GET", "/api/v1/element-types", nil); w.Code != http.StatusOK {
		t.Errorf("API Status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestTemplateLifecycle(t *testing.T) {
	server := setupTestServer(t, nil)
	tmpl := createTemplate(t, server)

	w := do(t, server, "GET", "/api/v1/templates?course=10", nil)
	var list TemplateListResponse
	decodeBody(t, w, &list)
	if list.Total != 1 || list.Templates[0].ID != tmpl.ID || list.Templates[0].Pages != 1 {
		t.Errorf("list = %+v", list)
	}

	w = do(t, server, "PUT", "/api/v1/templates/"+tmpl.ID, TemplateUpdateRequest{Name: "Renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: Status = %d", w.Code)
	}

	w = do(t, server, "POST", "/api/v1/templates/"+tmpl.ID+"/pages", PageRequest{Width: 297, Height: 210})
	if w.Code != http.StatusCreated {
		t.Fatalf("add page: Status = %d, body = %s", w.Code, w.Body.String())
	}
	var page certificate.Page
	decodeBody(t, w, &page)
	if page.Sequence != 2 || page.Width != 297 {
		t.Errorf("page = %+v", page)
	}

	w = do(t, server, "PUT", "/api/v1/templates/"+tmpl.ID+"/pages/"+page.ID, PageRequest{Width: 100, LeftMargin: 60, RightMargin: 60})
	if w.Code != http.StatusBadRequest {
		t.Errorf("margins wider than page: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, server, "POST", "/api/v1/templates/"+tmpl.ID+"/duplicate", TemplateUpdateRequest{Name: "Copy"})
	if w.Code != http.StatusCreated {
		t.Fatalf("duplicate: Status = %d", w.Code)
	}
	var dup certificate.Template
	decodeBody(t, w, &dup)
	if dup.ID == tmpl.ID || dup.Name != "Copy" || len(dup.Pages) != 2 {
		t.Errorf("duplicate = %+v", dup)
	}

	w = do(t, server, "DELETE", "/api/v1/templates/"+tmpl.ID+"/pages/"+page.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete page: Status = %d", w.Code)
	}

	w = do(t, server, "DELETE", "/api/v1/templates/"+tmpl.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete: Status = %d", w.Code)
	}
	w = do(t, server, "GET", "/api/v1/templates/"+tmpl.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted: Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestElements(t *testing.T) {
	server := setupTestServer(t, nil)
	tmpl := createTemplate(t, server)

	w := addElement(t, server, tmpl, ElementRequest{
		Type:   "text",
		Name:   "Heading",
		Values: map[string]any{"value": "Certificate", "posx": 20, "posy": 30, "fontsize": 24},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add element: Status = %d, body = %s", w.Code, w.Body.String())
	}
	var e certificate.Element
	decodeBody(t, w, &e)
	if e.ID == "" || e.Type != "text" || e.Name != "Heading" || e.PosX != 20 || e.FontSize != 24 {
		t.Errorf("element = %+v", e)
	}

	w = do(t, server, "PUT", "/api/v1/templates/"+tmpl.ID+"/elements/"+e.ID, ElementRequest{
		Values: map[string]any{"value": "Diploma", "posx": 25},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update element: Status = %d, body = %s", w.Code, w.Body.String())
	}
	var updated certificate.Element
	decodeBody(t, w, &updated)
	if updated.ID != e.ID || updated.PosX != 25 || !strings.Contains(updated.Data, "Diploma") {
		t.Errorf("updated = %+v", updated)
	}

	w = do(t, server, "PUT", "/api/v1/templates/"+tmpl.ID+"/elements/"+e.ID, ElementRequest{
		Type:   "image",
		Values: map[string]any{"value": "x"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("changing type: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, server, "GET", "/api/v1/templates/"+tmpl.ID+"/preview", nil)
	if w.Code != http.StatusOK || !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")) {
		t.Errorf("preview: Status = %d, Content-Type = %s", w.Code, w.Header().Get("Content-Type"))
	}

	w = do(t, server, "GET", "/api/v1/templates/"+tmpl.ID+"/pages/"+tmpl.Pages[0].ID+"/preview", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `data-element-id="`+e.ID+`"`) {
		t.Errorf("markup: Status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, server, "DELETE", "/api/v1/templates/"+tmpl.ID+"/elements/"+e.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete element: Status = %d", w.Code)
	}
}

func TestAddElement_Errors(t *testing.T) {
	metrics.SetGlobal(metrics.New())
	t.Cleanup(func() { metrics.SetGlobal(nil) })
	server := setupTestServer(t, nil)
	tmpl := createTemplate(t, server)

	w := addElement(t, server, tmpl, ElementRequest{
		Type:   "text",
		Values: map[string]any{"posx": -5, "colour": "red"},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	for _, key := range []string{"value", "posx", "colour"} {
		if _, ok := resp.Fields[key]; !ok {
			t.Errorf("Fields missing %s: %v", key, resp.Fields)
		}
	}
	if got := testutil.ToFloat64(metrics.Global().APIErrorsTotal.WithLabelValues("validation")); got != 1 {
		t.Errorf("validation errors = %v, want 1", got)
	}

	w = addElement(t, server, tmpl, ElementRequest{Type: "hologram"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown type: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = addElement(t, server, tmpl, ElementRequest{Type: "text", Values: map[string]any{"value": []string{"a"}}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-scalar value: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, server, "POST", "/api/v1/templates/"+tmpl.ID+"/pages/missing/elements", ElementRequest{Type: "text"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown page: Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestElementTypes(t *testing.T) {
	server := setupTestServer(t, nil)

	w := do(t, server, "GET", "/api/v1/element-types", nil)
	var resp struct {
		Types []ElementType `json:"types"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Types) != len(types.All()) {
		t.Errorf("got %d types, want %d", len(resp.Types), len(types.All()))
	}

	w = do(t, server, "GET", "/api/v1/element-types/text", nil)
	var schema ElementSchemaResponse
	decodeBody(t, w, &schema)
	if schema.Type != "text" || len(schema.Fields) == 0 || schema.Fields[0].Key != "name" {
		t.Errorf("schema = %+v", schema)
	}

	w = do(t, server, "GET", "/api/v1/element-types/hologram", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown type: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIssueAndVerify(t *testing.T) {
	server := setupTestServer(t, nil)
	tmpl := createTemplate(t, server)
	addElement(t, server, tmpl, ElementRequest{Type: "studentname"})

	w := do(t, server, "POST", "/api/v1/activities", ActivityCreateRequest{Name: "Final certificate", CourseID: 10, TemplateID: tmpl.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("create activity: Status = %d, body = %s", w.Code, w.Body.String())
	}
	var activity certificate.Activity
	decodeBody(t, w, &activity)

	w = do(t, server, "POST", "/api/v1/activities", ActivityCreateRequest{Name: "Orphan", CourseID: 10, TemplateID: "missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing template: Status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = do(t, server, "POST", "/api/v1/activities/"+activity.ID+"/issues", IssueCreateRequest{UserID: 2})
	if w.Code != http.StatusOK {
		t.Fatalf("issue: Status = %d, body = %s", w.Code, w.Body.String())
	}
	var issue certificate.Issue
	decodeBody(t, w, &issue)

	w = do(t, server, "POST", "/api/v1/activities/"+activity.ID+"/issues", IssueCreateRequest{UserID: 99})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown learner: Status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = do(t, server, "GET", "/api/v1/activities/"+activity.ID+"/certificate?user=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download: Status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="Final_certificate.pdf"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	if got := w.Header().Get("X-Certly-Code"); got != issue.Code {
		t.Errorf("X-Certly-Code = %q, want %q", got, issue.Code)
	}

	w = do(t, server, "GET", "/verify/"+issue.Code, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: Status = %d", w.Code)
	}
	var v issuance.Verification
	decodeBody(t, w, &v)
	if v.Learner != "Ada Lovelace" || v.Course != "Analytical Engines" || v.ActivityID != activity.ID {
		t.Errorf("verification = %+v", v)
	}

	w = do(t, server, "DELETE", "/api/v1/templates/"+tmpl.ID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("delete used template: Status = %d, want %d", w.Code, http.StatusConflict)
	}

	w = do(t, server, "DELETE", "/api/v1/issues/"+issue.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete issue: Status = %d", w.Code)
	}
	w = do(t, server, "GET", "/verify/"+issue.Code, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("verify deleted: Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestExportImport(t *testing.T) {
	server := setupTestServer(t, nil)
	tmpl := createTemplate(t, server)
	addElement(t, server, tmpl, ElementRequest{Type: "text", Values: map[string]any{"value": "Certificate"}})

	w := do(t, server, "POST", "/api/v1/export", ExportRequest{TemplateIDs: []string{tmpl.ID}})
	if w.Code != http.StatusOK {
		t.Fatalf("export: Status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "application/zip" {
		t.Errorf("Content-Type = %q", got)
	}
	bundle := w.Body.Bytes()

	w = do(t, server, "POST", "/api/v1/import?course=10&map=module:4=40", bundle)
	if w.Code != http.StatusCreated {
		t.Fatalf("import: Status = %d, body = %s", w.Code, w.Body.String())
	}
	var rep archive.ImportReport
	decodeBody(t, w, &rep)
	if len(rep.Templates) != 1 || rep.Imported != 1 || len(rep.Skipped) != 0 {
		t.Errorf("report = %+v", rep)
	}

	w = do(t, server, "POST", "/api/v1/import?map=planet:1=2", bundle)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad mapping: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, server, "POST", "/api/v1/export", ExportRequest{TemplateIDs: []string{"missing"}})
	if w.Code != http.StatusNotFound {
		t.Errorf("export missing: Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestImport_Rejected(t *testing.T) {
	server := setupTestServer(t, nil)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, _ := zw.Create("manifest.json")
	f.Write([]byte(`{"format":"something-else","version":1,"templates":[]}`))
	zw.Close()

	w := do(t, server, "POST", "/api/v1/import", buf.Bytes())
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("schema violation: Status = %d, want %d, body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}

	w = do(t, server, "POST", "/api/v1/import", "not a zip file")
	if w.Code != http.StatusBadRequest {
		t.Errorf("not an archive: Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, server, "POST", "/api/v1/import", bytes.Repeat([]byte("x"), 2<<20))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("too large: Status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestFiles(t *testing.T) {
	server := setupTestServer(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "seal.png")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	part.Write([]byte("not really a png"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: Status = %d, body = %s", w.Code, w.Body.String())
	}
	var ref filestore.Ref
	decodeBody(t, w, &ref)
	if ref.Name != "seal.png" || ref.MimeType != "image/png" || ref.Size != 16 {
		t.Errorf("ref = %+v", ref)
	}

	w = do(t, server, "GET", "/api/v1/files/"+ref.ID, nil)
	if w.Code != http.StatusOK || w.Body.String() != "not really a png" {
		t.Errorf("get: Status = %d, body = %q", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q", got)
	}

	w = do(t, server, "GET", "/api/v1/files/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
