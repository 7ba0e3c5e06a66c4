package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document"
)

type fakeRaster struct {
	path   string
	data   []byte
	closed *int
	err    error
	mu     *sync.Mutex
}

func (r *fakeRaster) Path() string           { return r.path }
func (r *fakeRaster) Bytes() ([]byte, error) { return r.data, nil }
func (r *fakeRaster) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.closed++
	return r.err
}

type fakePage struct {
	number    int
	text      string
	textErr   error
	renderErr error
	closeErr  error

	mu      sync.Mutex
	renders int
	closed  int
}

func (p *fakePage) Number() int { return p.number }

func (p *fakePage) EmbeddedText() (string, error) { return p.text, p.textErr }

func (p *fakePage) Render(ctx context.Context, scale float64) (document.Raster, error) {
	p.mu.Lock()
	p.renders++
	p.mu.Unlock()
	if p.renderErr != nil {
		return nil, p.renderErr
	}
	return &fakeRaster{
		path:   fmt.Sprintf("page-%d.png", p.number),
		data:   []byte(fmt.Sprintf("img-%d", p.number)),
		closed: &p.closed,
		err:    p.closeErr,
		mu:     &p.mu,
	}, nil
}

// open reports whether a rendered image was never closed.
func (p *fakePage) open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.renders > 0 && p.renderErr == nil && p.closed == 0
}

type fakeDoc struct {
	pages  []*fakePage
	closed bool
}

func (d *fakeDoc) NumPages() int            { return len(d.pages) }
func (d *fakeDoc) Page(n int) document.Page { return d.pages[n-1] }
func (d *fakeDoc) Close() error             { d.closed = true; return nil }

type fakeOpener struct {
	doc *fakeDoc
	err error
}

func (o *fakeOpener) Open(ctx context.Context, path string) (document.Document, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

// fakeOCR returns lines keyed by the image content.
type fakeOCR struct {
	lines map[string][]string
	errs  map[string]error

	mu    sync.Mutex
	calls int
}

func (f *fakeOCR) Recognize(ctx context.Context, img []byte) ([]document.Line, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	key := string(img)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	var out []document.Line
	for _, text := range f.lines[key] {
		out = append(out, document.Line{Text: text, Confidence: 90})
	}
	return out, nil
}

type recordingSink struct {
	pages []int
	paths []string
	err   error
}

func (s *recordingSink) ExportPage(ctx context.Context, page int, raster document.Raster) error {
	s.pages = append(s.pages, page)
	s.paths = append(s.paths, raster.Path())
	return s.err
}

var errRender = errors.New("pdftoppm exploded")
