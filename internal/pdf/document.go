package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-pdf/fpdf"

	"mediabot/internal/media"
)

// ErrUnsupportedImage is returned when the bytes are not a format the PDF
// writer can embed.
var ErrUnsupportedImage = errors.New("unsupported image format")

// Document is a multi-page image PDF. Pages are only added once their image
// has been accepted, so a rejected image never leaves a blank page behind.
type Document struct {
	f   *fpdf.Fpdf
	seq int
}

func New() *Document {
	f := fpdf.New("P", "pt", "A4", "")
	f.SetMargins(0, 0, 0)
	f.SetAutoPageBreak(false, 0)
	f.SetCompression(false)
	return &Document{f: f}
}

// AddImagePage registers data and, if the writer accepts it, appends a page
// with the image placed at p. On rejection the document is left unchanged
// and usable.
func (d *Document) AddImagePage(data []byte, p Placement) error {
	if len(data) == 0 {
		return media.ErrEmptyPayload
	}
	typ := media.PDFImageType(data)
	if typ == "" {
		return ErrUnsupportedImage
	}
	if p.W <= 0 || p.H <= 0 {
		return fmt.Errorf("invalid placement %vx%v", p.W, p.H)
	}

	d.seq++
	name := "img" + strconv.Itoa(d.seq)
	opts := fpdf.ImageOptions{ImageType: typ}
	d.f.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
	if err := d.f.Error(); err != nil {
		d.f.ClearError()
		return fmt.Errorf("register image: %w", err)
	}

	d.f.AddPage()
	d.f.ImageOptions(name, p.X, p.Y, p.W, p.H, false, opts, 0, "")
	if err := d.f.Error(); err != nil {
		return fmt.Errorf("place image: %w", err)
	}
	return nil
}

func (d *Document) PageCount() int { return d.f.PageCount() }

// Write renders the document. A document without pages is an error.
func (d *Document) Write(w io.Writer) error {
	if d.f.PageCount() == 0 {
		return errors.New("pdf has no pages")
	}
	return d.f.Output(w)
}

// WriteFile renders the document to path.
func (d *Document) WriteFile(path string) error {
	if d.f.PageCount() == 0 {
		return errors.New("pdf has no pages")
	}
	return d.f.OutputFileAndClose(path)
}
