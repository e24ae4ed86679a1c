package archive

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/codec"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/filestore"
	"github.com/foxzi/certly/internal/metrics"
	"github.com/foxzi/certly/internal/payload"
)

// ExportReport summarises an export
type ExportReport struct {
	Templates int       `json:"templates"`
	Elements  int       `json:"elements"`
	Files     int       `json:"files"`
	Skipped   []Skipped `json:"skipped,omitempty"`
}

// bundler hands out portable ids for the files referenced while exporting,
// in the order they are first seen.
type bundler struct {
	files filestore.Store
	ids   map[string]string
	refs  []filestore.Ref
}

func newBundler(files filestore.Store) *bundler {
	return &bundler{files: files, ids: make(map[string]string)}
}

func (b *bundler) Reference(ctx context.Context, fileID string) (string, error) {
	if pid, ok := b.ids[fileID]; ok {
		return pid, nil
	}
	if b.files == nil {
		return "", filestore.ErrNotFound
	}
	ref, err := b.files.Stat(ctx, fileID)
	if err != nil {
		return "", err
	}
	pid := portableFileID(len(b.refs))
	b.ids[fileID] = pid
	b.refs = append(b.refs, ref)
	return pid, nil
}

func (b *bundler) Resolve(ctx context.Context, portableID string) (string, error) {
	return "", errors.New("exporting archives cannot resolve portable ids")
}

// Export writes the templates with the given ids to w. Exporting the same
// templates twice produces identical bytes.
func (a *Archiver) Export(ctx context.Context, templateIDs []string, w io.Writer) (*ExportReport, error) {
	rep, err := a.export(ctx, templateIDs, w)
	if err != nil {
		metrics.IncExports("failed")
		return rep, err
	}
	metrics.IncExports("success")
	return rep, nil
}

func (a *Archiver) export(ctx context.Context, templateIDs []string, w io.Writer) (*ExportReport, error) {
	if len(templateIDs) == 0 {
		return nil, fmt.Errorf("no templates to export")
	}

	rep := &ExportReport{}
	b := newBundler(a.files)
	port := &element.Port{Directory: a.env.Directory, Files: b}

	manifest := Manifest{Format: Format, Version: Version}
	docs := make([][]byte, 0, len(templateIDs))
	for i, id := range templateIDs {
		tmpl, err := a.store.GetTemplate(ctx, id)
		if err != nil {
			return rep, fmt.Errorf("failed to load template %s: %w", id, err)
		}
		doc, err := a.document(ctx, port, tmpl, rep)
		if err != nil {
			return rep, err
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return rep, fmt.Errorf("failed to encode template %s: %w", id, err)
		}
		docs = append(docs, data)
		manifest.Templates = append(manifest.Templates, templatePath(i))
		rep.Templates++
	}

	manifest.Files = make([]FileEntry, len(b.refs))
	for i, ref := range b.refs {
		manifest.Files[i] = FileEntry{ID: portableFileID(i), Name: ref.Name, MimeType: ref.MimeType, Size: ref.Size}
	}
	rep.Files = len(b.refs)

	zw := zip.NewWriter(w)
	if err := writeJSON(zw, manifestName, manifest); err != nil {
		return rep, err
	}
	for i, data := range docs {
		if err := writeEntry(zw, manifest.Templates[i], data); err != nil {
			return rep, err
		}
	}
	for i, ref := range b.refs {
		if err := a.bundleFile(ctx, zw, portableFileID(i), ref.ID); err != nil {
			return rep, err
		}
	}
	if err := zw.Close(); err != nil {
		return rep, fmt.Errorf("failed to finish archive: %w", err)
	}

	a.logger.Info("templates exported",
		"templates", rep.Templates,
		"elements", rep.Elements,
		"files", rep.Files,
		"skipped", len(rep.Skipped),
	)
	return rep, nil
}

// document converts a template into its portable form. Elements whose data
// cannot be exported are left out.
func (a *Archiver) document(ctx context.Context, port *element.Port, tmpl *certificate.Template, rep *ExportReport) (*Document, error) {
	doc := &Document{Name: tmpl.Name, Pages: []PageDoc{}}
	for _, page := range tmpl.OrderedPages() {
		pd := PageDoc{
			Sequence:    page.Sequence,
			Width:       page.Width,
			Height:      page.Height,
			LeftMargin:  page.LeftMargin,
			RightMargin: page.RightMargin,
			Elements:    []ElementDoc{},
		}
		for _, e := range page.OrderedElements() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			data, err := a.exportData(ctx, port, e)
			if err != nil {
				if !codec.IsFormat(err) {
					return nil, fmt.Errorf("failed to export element %s: %w", e.ID, err)
				}
				rep.Skipped = append(rep.Skipped, a.skip(ctx, tmpl.Name, page.Sequence, e, err))
				continue
			}
			pd.Elements = append(pd.Elements, ElementDoc{
				Type:      e.Type,
				Name:      e.Name,
				Sequence:  e.Sequence,
				PosX:      e.PosX,
				PosY:      e.PosY,
				Width:     e.Width,
				RefPoint:  e.RefPoint,
				Alignment: e.Alignment,
				Font:      e.Font,
				FontSize:  e.FontSize,
				Colour:    e.Colour,
				Data:      data,
			})
			rep.Elements++
		}
		doc.Pages = append(doc.Pages, pd)
	}
	return doc, nil
}

func (a *Archiver) exportData(ctx context.Context, port *element.Port, e *certificate.Element) (map[string]any, error) {
	raw := e.Data
	if e.SchemaVersion < payload.SchemaVersion {
		if migrated := payload.Migrate(&raw, e.Overrides()); migrated != nil {
			raw = *migrated
		}
	}
	return element.ExportData(ctx, a.handler(e.Type), port, payload.Parse(raw))
}

// skip logs an element left out of an archive
func (a *Archiver) skip(ctx context.Context, tmplName string, page int, e *certificate.Element, err error) Skipped {
	fatal := codec.IsFatal(err)
	level := slog.LevelWarn
	if fatal {
		level = slog.LevelError
	}
	a.logger.Log(ctx, level, "element skipped",
		"template", tmplName,
		"page", page,
		"element", elementLabel(e),
		"type", e.Type,
		"error", err,
	)
	return Skipped{
		Template: tmplName,
		Page:     page,
		Element:  elementLabel(e),
		Type:     e.Type,
		Reason:   err.Error(),
		Fatal:    fatal,
	}
}

func (a *Archiver) bundleFile(ctx context.Context, zw *zip.Writer, pid, fileID string) error {
	rc, _, err := a.files.Open(ctx, fileID)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", fileID, err)
	}
	defer rc.Close()

	fw, err := create(zw, filesDir+pid)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, rc); err != nil {
		return fmt.Errorf("failed to bundle file %s: %w", fileID, err)
	}
	return nil
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return writeEntry(zw, name, data)
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := create(zw, name)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// create adds an entry without a modification time so that archives are
// reproducible.
func create(zw *zip.Writer, name string) (io.Writer, error) {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return nil, fmt.Errorf("failed to add %s: %w", name, err)
	}
	return fw, nil
}
