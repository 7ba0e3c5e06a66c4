package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// ManifestName is written last into every structured document directory.
const ManifestName = "manifest.json"

// ErrNoAnalyzer is returned when structured output is requested without a
// structure engine.
var ErrNoAnalyzer = errors.New("no structure engine configured")

// Coordinator runs the structure engine on page images and persists the results.
type Coordinator struct {
	analyzer document.Analyzer
	opts     models.ExportOptions
	logger   logger.Logger
}

func NewCoordinator(analyzer document.Analyzer, opts models.ExportOptions, log logger.Logger) (*Coordinator, error) {
	if analyzer == nil && opts.Structured() {
		return nil, ErrNoAnalyzer
	}
	return &Coordinator{analyzer: analyzer, opts: opts, logger: log}, nil
}

// WithFormats returns a coordinator sharing the analyzer that writes the
// formats selected in opts.
func (c *Coordinator) WithFormats(opts models.ExportOptions) *Coordinator {
	cc := *c
	cc.opts = opts
	return &cc
}

// PageArtifacts lists the files written for one page, relative to the
// document directory.
type PageArtifacts struct {
	Page  int      `json:"page"`
	Files []string `json:"files"`
	Error string   `json:"error,omitempty"`
}

// Manifest describes a document's structured output.
type Manifest struct {
	Source       string          `json:"source"`
	PageCount    int             `json:"pageCount"`
	Pages        []PageArtifacts `json:"pages"`
	ExportErrors int             `json:"exportErrors"`
	Failure      string          `json:"failure,omitempty"`
}

// ExportPage analyzes one rendered page and writes every result into dir as
// page_NNNN.json/.md, suffixed _k when the engine returns several results.
func (c *Coordinator) ExportPage(ctx context.Context, page int, raster document.Raster, dir string) ([]string, error) {
	img, err := raster.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d image: %w", page, err)
	}

	layouts, err := c.analyzer.Analyze(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze page %d: %w", page, err)
	}

	var files []string
	for k := range layouts {
		base := fmt.Sprintf("page_%04d", page)
		if len(layouts) > 1 {
			base = fmt.Sprintf("%s_%d", base, k+1)
		}
		if c.opts.JSON {
			data, err := layouts[k].JSON()
			if err != nil {
				return files, fmt.Errorf("failed to encode page %d: %w", page, err)
			}
			if err := os.WriteFile(filepath.Join(dir, base+".json"), data, 0o644); err != nil {
				return files, fmt.Errorf("failed to write page %d json: %w", page, err)
			}
			files = append(files, base+".json")
		}
		if c.opts.Markdown {
			md := layouts[k].Markdown()
			if err := os.WriteFile(filepath.Join(dir, base+".md"), []byte(md), 0o644); err != nil {
				return files, fmt.Errorf("failed to write page %d markdown: %w", page, err)
			}
			files = append(files, base+".md")
		}
	}

	c.logger.Debug("Page structure exported",
		logger.Int("page", page),
		logger.Int("results", len(layouts)),
	)
	return files, nil
}

// Begin prepares dir for one document. The returned DocumentExport is the
// extraction page sink for that document.
func (c *Coordinator) Begin(dir, source string) (*DocumentExport, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create structured directory: %w", err)
	}
	return &DocumentExport{
		coord:    c,
		dir:      dir,
		manifest: Manifest{Source: source, Pages: []PageArtifacts{}},
	}, nil
}

// DocumentExport accumulates one document's manifest.
type DocumentExport struct {
	coord *Coordinator
	dir   string

	mu       sync.Mutex
	manifest Manifest
}

func (d *DocumentExport) Dir() string { return d.dir }

func (d *DocumentExport) ExportPage(ctx context.Context, page int, raster document.Raster) error {
	files, err := d.coord.ExportPage(ctx, page, raster, d.dir)

	d.mu.Lock()
	defer d.mu.Unlock()
	entry := PageArtifacts{Page: page, Files: files}
	if entry.Files == nil {
		entry.Files = []string{}
	}
	if err != nil {
		entry.Error = err.Error()
		d.manifest.ExportErrors++
	}
	d.manifest.Pages = append(d.manifest.Pages, entry)
	return err
}

// Finish writes manifest.json. A manifest is the resume marker for runs
// without text export, so it is written only after every page.
func (d *DocumentExport) Finish(doc *models.Document) error {
	d.mu.Lock()
	m := d.manifest
	d.mu.Unlock()

	m.PageCount = doc.PageCount
	if doc.Failure != nil {
		m.Failure = doc.Failure.Message
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(d.dir, ManifestName), data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}
