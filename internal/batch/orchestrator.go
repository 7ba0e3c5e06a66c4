package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/pdf-batch-ocr/internal/export"
	"github.com/feichai0017/pdf-batch-ocr/internal/extract"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// SummaryFile is written into the text root after every run.
const SummaryFile = "_batch_summary.txt"

// DocumentExtractor is satisfied by *extract.Extractor.
type DocumentExtractor interface {
	Extract(ctx context.Context, path string, policy models.Policy, opts ...extract.Option) (*models.Document, error)
}

// Progress is reported after every page and after every document.
type Progress struct {
	Document string `json:"document"`
	// Index is the 1-based position of Document in discovery order.
	Index int `json:"index"`
	Total int `json:"total"`
	// Page and Pages are zero for document-level events.
	Page   int           `json:"page,omitempty"`
	Pages  int           `json:"pages,omitempty"`
	Status models.Status `json:"status,omitempty"`
}

type ProgressFunc func(Progress)

// Options configures one run.
type Options struct {
	Export models.ExportOptions
	// TextDir and StructuredDir are joined to the root when relative.
	TextDir       string
	StructuredDir string
	Extensions    []string
	Workers       int
	Progress      ProgressFunc
}

// DefaultOptions writes text only into <root>/ocr_results.
func DefaultOptions() Options {
	return Options{
		Export:        models.ClassicExport(),
		TextDir:       "ocr_results",
		StructuredDir: "doc_results",
		Extensions:    []string{".pdf"},
		Workers:       1,
	}
}

// Result is what a run produced.
type Result struct {
	Root           string         `json:"root"`
	TextRoot       string         `json:"textRoot"`
	StructuredRoot string         `json:"structuredRoot,omitempty"`
	SummaryPath    string         `json:"summaryPath"`
	Summary        models.Summary `json:"summary"`

	// fullNames holds documents whose stem is shared with another document
	// in the same directory. Their artifacts keep the extension.
	fullNames map[string]bool
}

// Orchestrator runs extraction over a directory tree.
type Orchestrator struct {
	extractor   DocumentExtractor
	coordinator *export.Coordinator
	logger      logger.Logger
}

// NewOrchestrator builds an orchestrator. coordinator may be nil when
// structured export is never requested.
func NewOrchestrator(extractor DocumentExtractor, coordinator *export.Coordinator, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		extractor:   extractor,
		coordinator: coordinator,
		logger:      log,
	}
}

// Run discovers documents under root and processes each one, skipping those
// whose output already exists. A missing root fails before anything is written.
func (o *Orchestrator) Run(ctx context.Context, root string, opts Options, policy models.Policy) (*Result, error) {
	abs, err := CheckRoot(root)
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	opts = withDefaults(opts)
	if opts.Export.Structured() && o.coordinator == nil {
		return nil, export.ErrNoAnalyzer
	}

	textRoot, structRoot := opts.OutputRoots(abs)
	res := &Result{
		Root:        abs,
		TextRoot:    textRoot,
		SummaryPath: filepath.Join(textRoot, SummaryFile),
	}
	if opts.Export.Structured() {
		res.StructuredRoot = structRoot
	}

	docs, err := Discover(abs, opts.Extensions, textRoot, structRoot)
	if err != nil {
		return nil, err
	}
	res.fullNames = sharedStems(docs)
	for rel := range res.fullNames {
		o.logger.Warn("Document stem is not unique in its directory, keeping the extension in output names",
			logger.String("document", rel))
	}

	for _, dir := range []string{res.TextRoot, res.StructuredRoot} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output root: %w", err)
		}
	}

	o.logger.Info("Starting batch",
		logger.String("root", abs),
		logger.Int("documents", len(docs)),
		logger.Int("workers", opts.Workers),
		logger.Bool("text", opts.Export.Text),
		logger.Bool("json", opts.Export.JSON),
		logger.Bool("markdown", opts.Export.Markdown),
	)

	entries := make([]models.SummaryEntry, len(docs))
	runErr := o.runAll(ctx, res, docs, entries, opts, policy)

	// Keep discovery order and drop slots a cancelled run never reached.
	res.Summary = make(models.Summary, 0, len(entries))
	for _, e := range entries {
		if e.Status != "" {
			res.Summary = append(res.Summary, e)
		}
	}

	if runErr != nil && len(res.Summary) == 0 {
		res.SummaryPath = ""
		return res, runErr
	}
	if err := export.WriteFileAtomic(res.SummaryPath, []byte(res.Summary.String()+"\n")); err != nil {
		return res, errors.Join(runErr, fmt.Errorf("failed to write summary: %w", err))
	}

	o.logger.Info("Batch finished",
		logger.String("summary", res.SummaryPath),
		logger.Int("ok", res.Summary.Count(models.StatusOK)),
		logger.Int("error", res.Summary.Count(models.StatusError)),
		logger.Int("skipped", res.Summary.Count(models.StatusSkipped)),
	)
	return res, runErr
}

func (o *Orchestrator) runAll(ctx context.Context, res *Result, docs []string, entries []models.SummaryEntry, opts Options, policy models.Policy) error {
	var progressMu sync.Mutex
	report := func(p Progress) {
		if opts.Progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		opts.Progress(p)
	}

	if opts.Workers <= 1 {
		for i, rel := range docs {
			entry, err := o.process(ctx, res, rel, i, len(docs), opts, policy, report)
			if err != nil {
				return err
			}
			entries[i] = entry
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, rel := range docs {
		g.Go(func() error {
			entry, err := o.process(gctx, res, rel, i, len(docs), opts, policy, report)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	return g.Wait()
}

// process handles one document. The only error it returns is cancellation;
// everything else becomes an ERROR entry.
func (o *Orchestrator) process(ctx context.Context, res *Result, rel string, index, total int, opts Options, policy models.Policy, report func(Progress)) (models.SummaryEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.SummaryEntry{}, err
	}

	paths := artifactPaths(res, rel)
	log := o.logger.With(logger.String("document", rel))
	done := func(entry models.SummaryEntry) (models.SummaryEntry, error) {
		report(Progress{Document: rel, Index: index + 1, Total: total, Status: entry.Status})
		return entry, nil
	}

	if paths.exists(opts.Export) {
		log.Info("Output exists, skipping")
		return done(models.SummaryEntry{Status: models.StatusSkipped, RelPath: rel})
	}

	extractOpts := []extract.Option{
		extract.WithRelPath(rel),
		extract.WithProgress(func(page, pages int) {
			report(Progress{Document: rel, Index: index + 1, Total: total, Page: page, Pages: pages})
		}),
	}

	var sink *export.DocumentExport
	if opts.Export.Structured() {
		var err error
		sink, err = o.coordinator.WithFormats(opts.Export).Begin(paths.structDir, rel)
		if err != nil {
			o.writeError(log, paths, &models.DocumentFailure{Message: err.Error(), Trace: err.Error()})
			return done(models.SummaryEntry{Status: models.StatusError, RelPath: rel})
		}
		extractOpts = append(extractOpts, extract.WithPageSink(sink))
	}

	doc, err := o.extractor.Extract(ctx, filepath.Join(res.Root, filepath.FromSlash(rel)), policy, extractOpts...)
	if err != nil {
		log.Warn("Extraction cancelled", logger.Error(err))
		return models.SummaryEntry{}, err
	}

	if doc.Failed() {
		o.writeError(log, paths, doc.Failure)
		return done(models.SummaryEntry{Status: models.StatusError, RelPath: rel})
	}

	if sink != nil {
		if err := sink.Finish(doc); err != nil {
			log.Error("Failed to write structured manifest", logger.Error(err))
		}
	}
	if opts.Export.Text {
		if err := export.WriteFileAtomic(paths.text, []byte(doc.FullText)); err != nil {
			log.Error("Failed to write text output", logger.Error(err))
			o.writeError(log, paths, &models.DocumentFailure{Message: err.Error(), Trace: err.Error()})
			return done(models.SummaryEntry{Status: models.StatusError, RelPath: rel})
		}
	}
	if err := os.Remove(paths.errText); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to remove stale error file", logger.Error(err))
	}

	counts := doc.MethodCounts()
	log.Info("Document processed",
		logger.Int("pages", doc.PageCount),
		logger.Int("embedded", counts[models.MethodEmbedded]),
		logger.Int("ocr", counts[models.MethodOCR]),
		logger.Int("ocr_empty", counts[models.MethodOCREmpty]),
		logger.Int("error", counts[models.MethodError]),
		logger.Int("exportErrors", doc.ExportErrors),
	)
	return done(models.SummaryEntry{Status: models.StatusOK, RelPath: rel, Pages: doc.PageCount})
}

func (o *Orchestrator) writeError(log logger.Logger, paths artifacts, f *models.DocumentFailure) {
	log.Error("Document failed", logger.String("error", f.Message))
	body := fmt.Sprintf("ERROR: %s\n\n%s", f.Message, f.Trace)
	if err := export.WriteFileAtomic(paths.errText, []byte(body)); err != nil {
		log.Error("Failed to write error file", logger.Error(err))
	}
}

// artifacts are the output locations mirrored from one input document.
type artifacts struct {
	text      string
	errText   string
	structDir string
}

func artifactPaths(res *Result, rel string) artifacts {
	dir, file := path.Split(rel)
	stem := file
	if !res.fullNames[rel] {
		stem = strings.TrimSuffix(file, path.Ext(file))
	}
	textDir := filepath.Join(res.TextRoot, filepath.FromSlash(dir))

	a := artifacts{
		text:    filepath.Join(textDir, stem+"_ocr.txt"),
		errText: filepath.Join(textDir, stem+"_ERROR.txt"),
	}
	if res.StructuredRoot != "" {
		a.structDir = filepath.Join(res.StructuredRoot, filepath.FromSlash(dir), stem)
	}
	return a
}

// sharedStems returns the documents that would mirror to the same artifact
// as another document, e.g. scan.pdf and scan.PDF.
func sharedStems(docs []string) map[string]bool {
	byStem := make(map[string][]string, len(docs))
	for _, rel := range docs {
		key := strings.TrimSuffix(rel, path.Ext(rel))
		byStem[key] = append(byStem[key], rel)
	}
	shared := make(map[string]bool)
	for _, rels := range byStem {
		if len(rels) < 2 {
			continue
		}
		for _, rel := range rels {
			shared[rel] = true
		}
	}
	return shared
}

// exists reports whether the document's resume marker is present: the text
// artifact, or the structured manifest when text export is off.
func (a artifacts) exists(opts models.ExportOptions) bool {
	marker := a.text
	if !opts.Text {
		if a.structDir == "" {
			return false
		}
		marker = filepath.Join(a.structDir, export.ManifestName)
	}
	_, err := os.Stat(marker)
	return err == nil
}

// OutputRoots resolves the text and structured roots for a batch root. Both
// are excluded from discovery whether or not structured export is on.
func (o Options) OutputRoots(root string) (text, structured string) {
	o = withDefaults(o)
	return resolve(root, o.TextDir), resolve(root, o.StructuredDir)
}

func resolve(root, dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(root, dir)
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.TextDir == "" {
		opts.TextDir = def.TextDir
	}
	if opts.StructuredDir == "" {
		opts.StructuredDir = def.StructuredDir
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = def.Extensions
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return opts
}
