package pdf

import (
	"context"
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document"
	"github.com/feichai0017/pdf-batch-ocr/internal/utils/validator"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// Options configures the PDF processor.
type Options struct {
	PdftoppmPath string
	// TempDir is the parent for per-document render directories. Empty uses os.TempDir.
	TempDir string
	// Validator runs pre-flight checks before parsing. Nil disables them.
	Validator *validator.DocumentValidator
}

// Processor opens PDFs with ledongthuc/pdf and renders pages with pdftoppm.
type Processor struct {
	logger    logger.Logger
	raster    *Rasterizer
	validator *validator.DocumentValidator
	tempDir   string
}

var _ document.Opener = (*Processor)(nil)

func NewProcessor(log logger.Logger, opts Options) *Processor {
	return &Processor{
		logger:    log,
		raster:    NewRasterizer(opts.PdftoppmPath),
		validator: opts.Validator,
		tempDir:   opts.TempDir,
	}
}

// Open parses the document. Any failure is wrapped with document.ErrOpen.
func (p *Processor) Open(ctx context.Context, path string) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.validator != nil {
		res, err := p.validator.ValidateFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", document.ErrOpen, err)
		}
		if err := res.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", document.ErrOpen, err)
		}
	}

	f, reader, err := openReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", document.ErrOpen, path, err)
	}

	numPages, err := safeNumPages(reader)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", document.ErrOpen, path, err)
	}

	dir, err := os.MkdirTemp(p.tempDir, "batchocr-*")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create render directory: %w", err)
	}

	p.logger.Debug("Opened PDF",
		logger.String("path", path),
		logger.Int("pages", numPages),
	)

	return &Document{
		path:     path,
		file:     f,
		reader:   reader,
		numPages: numPages,
		dir:      dir,
		raster:   p.raster,
	}, nil
}

// openReader recovers from parser panics on malformed input.
func openReader(path string) (f *os.File, r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if f != nil {
				f.Close()
			}
			f, r, err = nil, nil, fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()
	return pdf.Open(path)
}

func safeNumPages(r *pdf.Reader) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()
	return r.NumPage(), nil
}

// Document is an opened PDF file.
type Document struct {
	path     string
	file     *os.File
	reader   *pdf.Reader
	numPages int
	dir      string
	raster   *Rasterizer
}

func (d *Document) NumPages() int { return d.numPages }

func (d *Document) Page(number int) document.Page {
	return &Page{doc: d, number: number}
}

// Close closes the file and removes the render directory with anything left in it.
func (d *Document) Close() error {
	err := d.file.Close()
	if rmErr := os.RemoveAll(d.dir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// Page is a single page of an opened Document.
type Page struct {
	doc    *Document
	number int
}

func (p *Page) Number() int { return p.number }

// EmbeddedText returns the page's text layer in NFKC form, so ligatures and
// full-width forms count as the letters they stand for. A page without
// content yields "".
func (p *Page) EmbeddedText() (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("failed to get text from page %d: pdf parser panic: %v", p.number, rec)
		}
	}()

	page := p.doc.reader.Page(p.number)
	if page.V.IsNull() {
		return "", nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("failed to get text from page %d: %w", p.number, err)
	}
	return norm.NFKC.String(text), nil
}

// Render rasterizes the page into the document's render directory.
func (p *Page) Render(ctx context.Context, scale float64) (document.Raster, error) {
	path, err := p.doc.raster.Render(ctx, p.doc.path, p.number, scale, p.doc.dir)
	if err != nil {
		return nil, err
	}
	return newFileRaster(path), nil
}
