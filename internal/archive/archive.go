// Package archive moves templates between sites as a portable zip bundle.
//
// Layout of an archive:
//
//	manifest.json        format, version, template documents, bundled files
//	templates/001.json   one portable document per template
//	files/file-0001      bundled file contents, named by portable id
//
// Local file ids and host paths never appear in an archive. Element data is
// written in its portable form, one wire object per payload key.
package archive

import (
	"fmt"
	"log/slog"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/filestore"
)

// Format identifies certly archives
const Format = "certly-archive"

// Version is the archive layout written by this package
const Version = 1

const (
	manifestName = "manifest.json"
	templatesDir = "templates/"
	filesDir     = "files/"
)

// Manifest is the table of contents of an archive
type Manifest struct {
	Format    string      `json:"format"`
	Version   int         `json:"version"`
	Templates []string    `json:"templates"`
	Files     []FileEntry `json:"files"`
}

// FileEntry describes a bundled file
type FileEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
}

// Document is the portable form of one template
type Document struct {
	Name  string    `json:"name"`
	Pages []PageDoc `json:"pages"`
}

// PageDoc is the portable form of a page
type PageDoc struct {
	Sequence    int          `json:"sequence"`
	Width       float64      `json:"width"`
	Height      float64      `json:"height"`
	LeftMargin  float64      `json:"left_margin"`
	RightMargin float64      `json:"right_margin"`
	Elements    []ElementDoc `json:"elements"`
}

// ElementDoc is the portable form of an element
type ElementDoc struct {
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Sequence  int            `json:"sequence"`
	PosX      float64        `json:"posx"`
	PosY      float64        `json:"posy"`
	Width     float64        `json:"width"`
	RefPoint  int            `json:"refpoint"`
	Alignment string         `json:"alignment"`
	Font      string         `json:"font"`
	FontSize  float64        `json:"fontsize"`
	Colour    string         `json:"colour"`
	Data      map[string]any `json:"data"`
}

// Skipped records an element left out of an export or import
type Skipped struct {
	Template string `json:"template"`
	Page     int    `json:"page"`
	Element  string `json:"element"`
	Type     string `json:"type"`
	Reason   string `json:"reason"`
	Fatal    bool   `json:"fatal"`
}

// Archiver exports and imports template archives
type Archiver struct {
	store    *certificate.Store
	registry *element.Registry
	env      *element.Env
	files    filestore.Store
	logger   *slog.Logger
}

// New creates an archiver. env supplies the directory used to check and
// remap references.
func New(store *certificate.Store, registry *element.Registry, env *element.Env, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:    store,
		registry: registry,
		env:      env,
		files:    env.Files,
		logger:   logger.With("component", "archive"),
	}
}

// handler returns the type handler or nil for unregistered types
func (a *Archiver) handler(typ string) element.Handler {
	h, err := a.registry.Get(typ)
	if err != nil {
		return nil
	}
	return h
}

func templatePath(i int) string {
	return fmt.Sprintf("%s%03d.json", templatesDir, i+1)
}

func portableFileID(i int) string {
	return fmt.Sprintf("file-%04d", i+1)
}

func elementLabel(e *certificate.Element) string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}
