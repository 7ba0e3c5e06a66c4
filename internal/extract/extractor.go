package extract

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// PageSink receives the rendered image of every page after its text decision.
// It is how structured export shares the page rendering with OCR.
type PageSink interface {
	ExportPage(ctx context.Context, page int, raster document.Raster) error
}

// ProgressFunc is called after each page with the 1-based page number.
type ProgressFunc func(page, total int)

type options struct {
	relPath  string
	sink     PageSink
	progress ProgressFunc
}

type Option func(*options)

// WithRelPath sets Document.RelPath.
func WithRelPath(rel string) Option {
	return func(o *options) { o.relPath = rel }
}

// WithPageSink renders every page once and hands the image to sink.
func WithPageSink(sink PageSink) Option {
	return func(o *options) { o.sink = sink }
}

func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// Extractor turns one PDF into a fully materialized models.Document.
type Extractor struct {
	opener  document.Opener
	decider *Decider
	logger  logger.Logger
}

func NewExtractor(opener document.Opener, ocr document.Recognizer, log logger.Logger) *Extractor {
	return &Extractor{
		opener:  opener,
		decider: NewDecider(ocr, log),
		logger:  log,
	}
}

// Extract opens path and decides every page in order. A document that cannot
// be opened is returned with Failure set and a nil error. The error is
// non-nil only when ctx is cancelled, in which case the partial document is
// returned alongside it.
func (e *Extractor) Extract(ctx context.Context, path string, policy models.Policy, opts ...Option) (*models.Document, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	doc := &models.Document{Path: path, RelPath: o.relPath}
	log := e.logger.With(logger.String("document", path))

	if err := ctx.Err(); err != nil {
		return doc, err
	}

	pdf, err := e.opener.Open(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return doc, ctx.Err()
		}
		doc.Failure = failure(err, path)
		log.Error("Failed to open document", logger.Error(err))
		return doc, nil
	}
	defer func() {
		if err := pdf.Close(); err != nil {
			log.Warn("Failed to close document", logger.Error(err))
		}
	}()

	doc.PageCount = pdf.NumPages()
	doc.Pages = make([]models.PageOutcome, 0, doc.PageCount)
	texts := make([]string, 0, doc.PageCount)

	for n := 1; n <= doc.PageCount; n++ {
		if err := ctx.Err(); err != nil {
			doc.FullText = strings.Join(texts, "\n\n")
			return doc, err
		}

		page := &sharedPage{Page: pdf.Page(n), scale: policy.RenderScale}
		outcome := e.decider.Decide(ctx, page, policy)
		if o.sink != nil {
			if err := e.export(ctx, o.sink, page); err != nil {
				doc.ExportErrors++
				log.Error("Structured export failed",
					logger.Int("page", n),
					logger.Error(err),
				)
			}
		}
		if err := page.release(); err != nil {
			log.Warn("Failed to remove page image", logger.Int("page", n), logger.Error(err))
		}

		doc.Pages = append(doc.Pages, outcome)
		if outcome.Method.Contributes() {
			texts = append(texts, outcome.Text)
		}

		fields := []logger.Field{logger.Int("page", n), logger.String("method", string(outcome.Method))}
		if outcome.Method == models.MethodError {
			log.Warn("Page extraction failed", append(fields, logger.String("error", outcome.Error))...)
		} else {
			log.Debug("Page extracted", fields...)
		}
		if o.progress != nil {
			o.progress(n, doc.PageCount)
		}
	}

	doc.FullText = strings.Join(texts, "\n\n")
	return doc, nil
}

func (e *Extractor) export(ctx context.Context, sink PageSink, page *sharedPage) error {
	raster, err := page.raster(ctx)
	if err != nil {
		return err
	}
	return sink.ExportPage(ctx, page.Number(), raster)
}

func failure(err error, path string) *models.DocumentFailure {
	wrapped := eris.Wrapf(err, "failed to extract %s", path)
	return &models.DocumentFailure{
		Message: err.Error(),
		Trace:   eris.ToString(wrapped, true),
	}
}

// sharedPage renders at most once per page. Rasters handed out by Render are
// borrowed: closing them is a no-op and release deletes the image.
type sharedPage struct {
	document.Page
	scale float64

	once sync.Once
	img  document.Raster
	err  error
}

func (p *sharedPage) raster(ctx context.Context) (document.Raster, error) {
	p.once.Do(func() {
		p.img, p.err = p.Page.Render(ctx, p.scale)
	})
	if p.err != nil {
		return nil, p.err
	}
	return borrowed{p.img}, nil
}

func (p *sharedPage) Render(ctx context.Context, scale float64) (document.Raster, error) {
	if scale != p.scale {
		return p.Page.Render(ctx, scale)
	}
	return p.raster(ctx)
}

// release deletes the rendered image, if any.
func (p *sharedPage) release() error {
	if p.img == nil {
		return nil
	}
	return p.img.Close()
}

type borrowed struct {
	document.Raster
}

func (borrowed) Close() error { return nil }
