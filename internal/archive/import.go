package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/metrics"
	"github.com/foxzi/certly/internal/payload"
)

// ErrInvalidArchive is returned for bundles that are not certly archives
var ErrInvalidArchive = errors.New("invalid archive")

// maxMemberSize bounds a single manifest or template document
const maxMemberSize = 16 << 20

// ImportOptions controls where imported templates go
type ImportOptions struct {
	// CourseID places the templates in a course; zero imports them at site
	// level.
	CourseID int64
	// Restore maps ids of the source site to local ones. Nil starts an
	// empty mapping.
	Restore *element.RestoreContext
}

// ImportReport summarises an import
type ImportReport struct {
	Templates []string  `json:"templates"`
	Imported  int       `json:"imported"`
	Restored  int       `json:"restored"`
	Skipped   []Skipped `json:"skipped,omitempty"`
}

// unbundler stores bundled files into the local file store on first use
type unbundler struct {
	zr      *zip.Reader
	files   filestore.Store
	entries map[string]FileEntry
	local   map[string]string
}

func newUnbundler(zr *zip.Reader, files filestore.Store, entries []FileEntry) *unbundler {
	u := &unbundler{
		zr:      zr,
		files:   files,
		entries: make(map[string]FileEntry, len(entries)),
		local:   make(map[string]string),
	}
	for _, fe := range entries {
		u.entries[fe.ID] = fe
	}
	return u
}

func (u *unbundler) Resolve(ctx context.Context, portableID string) (string, error) {
	if id, ok := u.local[portableID]; ok {
		return id, nil
	}
	fe, ok := u.entries[portableID]
	if !ok {
		return "", fmt.Errorf("%w: %s is not in the manifest", filestore.ErrNotFound, portableID)
	}
	if u.files == nil {
		return "", fmt.Errorf("no file store configured")
	}
	f, err := u.zr.Open(filesDir + portableID)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not bundled", filestore.ErrNotFound, portableID)
	}
	defer f.Close()

	ref, err := u.files.Put(ctx, fe.Name, fe.MimeType, f)
	if err != nil {
		return "", err
	}
	u.local[portableID] = ref.ID
	return ref.ID, nil
}

func (u *unbundler) Reference(ctx context.Context, fileID string) (string, error) {
	return "", errors.New("importing archives cannot reference local files")
}

// Import reads an archive and creates its templates. Documents are checked
// against the archive schema before anything is stored; a violation fails
// the whole import. Elements that cannot be imported are skipped and
// reported.
func (a *Archiver) Import(ctx context.Context, r io.ReaderAt, size int64, opts ImportOptions) (*ImportReport, error) {
	rep, err := a.importArchive(ctx, r, size, opts)
	if rep != nil {
		metrics.AddImportElements("imported", rep.Imported)
		metrics.AddImportElements("skipped", len(rep.Skipped))
	}
	if err != nil {
		metrics.IncImports("failed")
		return rep, err
	}
	metrics.IncImports("success")
	return rep, nil
}

func (a *Archiver) importArchive(ctx context.Context, r io.ReaderAt, size int64, opts ImportOptions) (*ImportReport, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	manifest, docs, err := readArchive(zr)
	if err != nil {
		return nil, err
	}

	rc := opts.Restore
	if rc == nil {
		rc = element.NewRestoreContext(opts.CourseID)
	}
	if rc.CourseID == 0 {
		rc.CourseID = opts.CourseID
	}

	rep := &ImportReport{Templates: []string{}}
	port := &element.Port{
		Directory: a.env.Directory,
		Files:     newUnbundler(zr, a.files, manifest.Files),
		Restore:   rc,
	}

	created := make([]*certificate.Template, 0, len(docs))
	for _, doc := range docs {
		tmpl, err := a.template(ctx, port, doc, opts.CourseID, rep)
		if err != nil {
			return rep, err
		}
		if err := a.store.CreateTemplate(ctx, tmpl); err != nil {
			return rep, fmt.Errorf("failed to create template %q: %w", doc.Name, err)
		}
		created = append(created, tmpl)
		rep.Templates = append(rep.Templates, tmpl.ID)
	}

	for _, tmpl := range created {
		n, err := a.afterRestore(ctx, rc, tmpl)
		if err != nil {
			return rep, err
		}
		rep.Restored += n
	}

	a.logger.Info("templates imported",
		"templates", len(rep.Templates),
		"elements", rep.Imported,
		"restored", rep.Restored,
		"skipped", len(rep.Skipped),
	)
	return rep, nil
}

// readArchive loads and validates the manifest and every document
func readArchive(zr *zip.Reader) (*Manifest, []*Document, error) {
	data, err := readMember(zr, manifestName)
	if err != nil {
		return nil, nil, err
	}
	if err := validate(manifestLoader, manifestName, data); err != nil {
		return nil, nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, manifestName, err)
	}

	docs := make([]*Document, 0, len(manifest.Templates))
	for _, name := range manifest.Templates {
		data, err := readMember(zr, name)
		if err != nil {
			return nil, nil, err
		}
		if err := validate(documentLoader, name, data); err != nil {
			return nil, nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var doc Document
		if err := dec.Decode(&doc); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, name, err)
		}
		docs = append(docs, &doc)
	}
	return &manifest, docs, nil
}

func readMember(zr *zip.Reader, name string) ([]byte, error) {
	if strings.Contains(name, "..") {
		return nil, fmt.Errorf("%w: bad member name %q", ErrInvalidArchive, name)
	}
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is missing", ErrInvalidArchive, name)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxMemberSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) > maxMemberSize {
		return nil, fmt.Errorf("%w: %s is too large", ErrInvalidArchive, name)
	}
	return data, nil
}

// template builds a new template from a document. Elements that fail their
// type checks are skipped.
func (a *Archiver) template(ctx context.Context, port *element.Port, doc *Document, courseID int64, rep *ImportReport) (*certificate.Template, error) {
	tmpl := &certificate.Template{Name: doc.Name, ContextLevel: certificate.ContextSite}
	if courseID > 0 {
		tmpl.ContextLevel = certificate.ContextCourse
		tmpl.CourseID = courseID
	}

	for _, pd := range doc.Pages {
		page := &certificate.Page{
			Sequence:    pd.Sequence,
			Width:       pd.Width,
			Height:      pd.Height,
			LeftMargin:  pd.LeftMargin,
			RightMargin: pd.RightMargin,
		}
		for _, ed := range pd.Elements {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			e := &certificate.Element{
				Type:          ed.Type,
				Name:          ed.Name,
				Sequence:      ed.Sequence,
				PosX:          ed.PosX,
				PosY:          ed.PosY,
				Width:         ed.Width,
				RefPoint:      ed.RefPoint,
				Alignment:     ed.Alignment,
				Font:          ed.Font,
				FontSize:      ed.FontSize,
				Colour:        ed.Colour,
				SchemaVersion: payload.SchemaVersion,
			}
			data, err := a.importData(ctx, port, ed)
			if err != nil {
				if !codec.IsFormat(err) {
					return nil, fmt.Errorf("failed to import element %q: %w", elementLabel(e), err)
				}
				rep.Skipped = append(rep.Skipped, a.skip(ctx, doc.Name, pd.Sequence, e, err))
				continue
			}
			e.Data = data
			page.Elements = append(page.Elements, e)
			rep.Imported++
		}
		tmpl.Pages = append(tmpl.Pages, page)
	}
	return tmpl, nil
}

func (a *Archiver) importData(ctx context.Context, port *element.Port, ed ElementDoc) (string, error) {
	h := a.handler(ed.Type)
	if ed.Data == nil {
		ed.Data = map[string]any{}
	}
	if err := element.ValidateImport(ctx, h, a.env, ed.Data); err != nil {
		return "", err
	}
	p, err := element.ConvertImport(ctx, h, a.env, port, ed.Data)
	if err != nil {
		return "", err
	}
	if len(p) == 0 {
		return "", nil
	}
	data, err := p.Encode()
	if err != nil {
		return "", codec.Recoverable("data", "%v", err)
	}
	return data, nil
}

// afterRestore lets element types remap ids once all templates exist. It
// returns the number of elements changed.
func (a *Archiver) afterRestore(ctx context.Context, rc *element.RestoreContext, tmpl *certificate.Template) (int, error) {
	updates := make(map[string]string)
	for _, page := range tmpl.OrderedPages() {
		for _, e := range page.OrderedElements() {
			h := a.handler(e.Type)
			if h == nil {
				continue
			}
			p := payload.Parse(e.Data)
			changed, err := element.AfterRestore(ctx, h, rc, p)
			if err != nil {
				if !codec.IsFormat(err) {
					return 0, fmt.Errorf("failed to restore element %s: %w", e.ID, err)
				}
				a.logger.Warn("element not remapped",
					"template_id", tmpl.ID,
					"element_id", e.ID,
					"type", e.Type,
					"error", err,
				)
				continue
			}
			if !changed {
				continue
			}
			data, err := p.Encode()
			if err != nil {
				return 0, fmt.Errorf("failed to encode element %s: %w", e.ID, err)
			}
			updates[e.ID] = data
		}
	}
	if len(updates) == 0 {
		return 0, nil
	}

	_, err := a.store.UpdateTemplate(ctx, tmpl.ID, func(t *certificate.Template) error {
		for _, e := range t.Elements() {
			if data, ok := updates[e.ID]; ok {
				e.Data = data
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store restored template %s: %w", tmpl.ID, err)
	}
	return len(updates), nil
}
