package surface

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// PDF draws onto a gofpdf document
type PDF struct {
	pdf     *gofpdf.Fpdf
	tr      func(string) string
	images  map[string]*gofpdf.ImageInfoType
	hasPage bool
}

// PDFOptions sets document metadata
type PDFOptions struct {
	Title   string
	Author  string
	Creator string
}

// NewPDF creates an empty PDF document
func NewPDF(opts PDFOptions) *PDF {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	if opts.Title != "" {
		pdf.SetTitle(opts.Title, true)
	}
	if opts.Author != "" {
		pdf.SetAuthor(opts.Author, true)
	}
	if opts.Creator != "" {
		pdf.SetCreator(opts.Creator, true)
	}
	return &PDF{
		pdf:    pdf,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		images: make(map[string]*gofpdf.ImageInfoType),
	}
}

func (p *PDF) AddPage(width, height, leftMargin, rightMargin float64) error {
	p.pdf.SetMargins(leftMargin, 0, rightMargin)
	// gofpdf swaps the size for "L", so the size is always given as portrait
	p.pdf.AddPageFormat("P", gofpdf.SizeType{Wd: width, Ht: height})
	p.hasPage = true
	return p.takeError()
}

func (p *PDF) Text(b Box, text string) error {
	if err := p.requirePage(); err != nil {
		return err
	}
	if text == "" {
		return nil
	}

	family, style := Font(b.Style.Font)
	size := b.Style.Size
	if size <= 0 {
		size = 12
	}
	p.pdf.SetFont(family, style, size)
	p.pdf.SetTextColor(RGB(b.Style.Colour))

	encoded := p.tr(text)
	w := b.Width
	if w <= 0 {
		for _, line := range strings.Split(encoded, "\n") {
			if lw := p.pdf.GetStringWidth(line); lw > w {
				w = lw
			}
		}
		// cell padding on both sides
		w += 2 * p.pdf.GetCellMargin()
		if w == 0 {
			return nil
		}
	}

	align := b.Align
	if align == "" {
		align = "L"
	}
	p.pdf.SetXY(b.Left(w), b.Y)
	p.pdf.MultiCell(w, LineHeight(size), encoded, "", align, false)
	return p.takeError()
}

func (p *PDF) Image(b Box, height float64, img Image) error {
	if err := p.requirePage(); err != nil {
		return err
	}
	typ, err := imageType(img.MimeType)
	if err != nil {
		return err
	}

	name := img.Key
	if name == "" {
		name = fmt.Sprintf("img%d", len(p.images)+1)
	}
	opts := gofpdf.ImageOptions{ImageType: typ, ReadDpi: true}

	info, ok := p.images[name]
	if !ok {
		info = p.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.Data))
		if err := p.takeError(); err != nil {
			return fmt.Errorf("failed to load image %s: %w", img.Name, err)
		}
		p.images[name] = info
	}

	w := b.Width
	if w <= 0 && height <= 0 && info != nil {
		w = info.Width()
		height = info.Height()
	}
	p.pdf.ImageOptions(name, b.Left(w), b.Y, w, height, false, opts, 0, "")
	return p.takeError()
}

func (p *PDF) Rect(x, y, w, h, lineWidth float64, colour string) error {
	if err := p.requirePage(); err != nil {
		return err
	}
	p.pdf.SetDrawColor(RGB(colour))
	p.pdf.SetLineWidth(lineWidth)
	p.pdf.Rect(x, y, w, h, "D")
	return p.takeError()
}

func (p *PDF) PageSize() (float64, float64) {
	w, h, _ := p.pdf.PageSize(p.pdf.PageNo())
	return w, h
}

func (p *PDF) Write(w io.Writer) error {
	if !p.hasPage {
		p.pdf.AddPage()
	}
	return p.pdf.Output(w)
}

func (p *PDF) requirePage() error {
	if !p.hasPage {
		return fmt.Errorf("no page added")
	}
	return nil
}

// takeError returns and clears the document error so one bad element does
// not poison the rest of the document.
func (p *PDF) takeError() error {
	err := p.pdf.Error()
	if err != nil {
		p.pdf.ClearError()
	}
	return err
}
