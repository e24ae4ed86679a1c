// Package element defines the element type plugin contract. A type is a
// Handler plus any of the optional capability interfaces below; callers
// probe for a capability and fall back to shared behaviour when it is
// missing.
package element

import (
	"context"
	"html/template"
	"log/slog"
	"time"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/form"
	"github.com/foxzi/certly/internal/lms"
	"github.com/foxzi/certly/internal/payload"
	"github.com/foxzi/certly/internal/surface"
)

// Handler identifies an element type
type Handler interface {
	Type() string
	Title() string
}

// Renderer draws the element onto a surface
type Renderer interface {
	Render(ctx context.Context, s surface.Surface, req *Request) error
}

// PreviewRenderer emits markup for the position editor instead of drawing
type PreviewRenderer interface {
	RenderMarkup(ctx context.Context, req *Request) (template.HTML, error)
}

// FormProvider declares the type's own configuration controls. The shared
// visual controls are appended by Schema.
type FormProvider interface {
	FormFields(ctx context.Context, env *Env, subject Subject) []form.Field
}

// Normaliser turns submitted form values into the payload to store.
// current is the stored payload, empty for new elements.
type Normaliser interface {
	Normalise(ctx context.Context, values form.Values, current payload.Payload) (payload.Payload, error)
}

// Validator checks type specific form values
type Validator interface {
	Validate(ctx context.Context, env *Env, values form.Values) form.Errors
}

// Controlled lists the shared visual controls a type uses. Types without it
// use all of them.
type Controlled interface {
	Controls() []string
}

// Portable declares how the payload crosses an archive
type Portable interface {
	PortableFields(port *Port) codec.Fields
}

// ImportValidator checks portable data against the target site before it
// is converted. A recoverable error drops the element.
type ImportValidator interface {
	ValidateImport(ctx context.Context, env *Env, data map[string]any) error
}

// ImportConverter builds the local payload from imported values
type ImportConverter interface {
	ConvertImport(ctx context.Context, env *Env, values map[string]any) (payload.Payload, error)
}

// FileUser reports the stored files a payload references
type FileUser interface {
	UsedFiles(p payload.Payload) []string
}

// AfterRestorer fixes references that can only be mapped once a whole
// archive has been imported. It edits p in place and reports whether it
// changed anything.
type AfterRestorer interface {
	AfterRestore(ctx context.Context, rc *RestoreContext, p payload.Payload) (bool, error)
}

// Env holds the collaborators element types may call
type Env struct {
	Directory  lms.Directory
	Files      filestore.Store
	Now        func() time.Time
	Logger     *slog.Logger
	VerifyURL  string
	DateFormat string
	CodeFormat string
}

// Time returns the current time
func (e *Env) Time() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Subject is who and what a document is rendered for. Every field may be
// nil, in previews in particular.
type Subject struct {
	User     *lms.User
	Course   *lms.Course
	Activity *certificate.Activity
	Issue    *certificate.Issue
}

// Port carries the collaborators used when values cross an archive
type Port struct {
	Directory lms.Directory
	Files     codec.FileResolver
	// Restore is set on import only
	Restore   *RestoreContext
}

// LocalUser translates a user id of the exporting site through the restore
// mapping.
func (p *Port) LocalUser(id int64) (int64, bool) {
	if p.Restore == nil {
		return 0, false
	}
	return p.Restore.Lookup(MapUser, id)
}

// RestoreContext maps ids from the source site to the imported ones
type RestoreContext struct {
	CourseID int64
	mapping  map[string]map[int64]int64
}

// Mapping kinds
const (
	MapCourseModule = "course_module"
	MapGradeItem    = "grade_item"
	MapUser         = "user"
	MapCourse       = "course"
)

// NewRestoreContext creates an empty mapping for a target course
func NewRestoreContext(courseID int64) *RestoreContext {
	return &RestoreContext{CourseID: courseID, mapping: make(map[string]map[int64]int64)}
}

// Add records that oldID of kind was imported as newID
func (rc *RestoreContext) Add(kind string, oldID, newID int64) {
	m, ok := rc.mapping[kind]
	if !ok {
		m = make(map[int64]int64)
		rc.mapping[kind] = m
	}
	m[oldID] = newID
}

// Lookup returns the imported id for oldID of kind
func (rc *RestoreContext) Lookup(kind string, oldID int64) (int64, bool) {
	id, ok := rc.mapping[kind][oldID]
	return id, ok
}

// Len returns the number of recorded mappings
func (rc *RestoreContext) Len() int {
	n := 0
	for _, m := range rc.mapping {
		n += len(m)
	}
	return n
}
