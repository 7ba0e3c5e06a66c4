// Command batchocr extracts text, and optionally page structure, from every
// PDF under a directory tree.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cfg "github.com/feichai0017/pdf-batch-ocr/config"
	"github.com/feichai0017/pdf-batch-ocr/internal/batch"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/internal/service/document"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
	"github.com/feichai0017/pdf-batch-ocr/pkg/storage"
)

type flags struct {
	root             string
	config           string
	mode             string
	forceOCR         bool
	minEmbeddedChars int
	renderScale      float64
	lang             string
	useGPU           bool
	exportText       bool
	exportJSON       bool
	exportMarkdown   bool
	workers          int
	publish          string
	set              map[string]bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("batchocr", flag.ContinueOnError)
	fs.StringVar(&f.root, "root", "", "directory to scan for PDFs (required)")
	fs.StringVar(&f.config, "config", "", "path to YAML config")
	fs.StringVar(&f.mode, "mode", "", "classic (text only) or structure (text, JSON and Markdown)")
	fs.BoolVar(&f.forceOCR, "force-ocr", false, "OCR every page even when embedded text exists")
	fs.IntVar(&f.minEmbeddedChars, "min-embedded-chars", 0, "minimum embedded characters to skip OCR")
	fs.Float64Var(&f.renderScale, "render-scale", 0, "page render scale for OCR")
	fs.StringVar(&f.lang, "lang", "", "OCR language")
	fs.BoolVar(&f.useGPU, "use-gpu", false, "request GPU inference")
	fs.BoolVar(&f.exportText, "export-txt", false, "write <name>_ocr.txt")
	fs.BoolVar(&f.exportJSON, "export-json", false, "write per-page JSON structure")
	fs.BoolVar(&f.exportMarkdown, "export-md", false, "write per-page Markdown")
	fs.IntVar(&f.workers, "workers", 0, "documents processed in parallel")
	fs.StringVar(&f.publish, "publish", "", "upload results after the run: s3 or minio")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.root == "" {
		return nil, errors.New("-root is required")
	}
	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// apply overrides configuration with the flags given on the command line.
func (f *flags) apply(c *cfg.Config) error {
	if f.set["mode"] {
		exp, err := models.ExportForMode(f.mode)
		if err != nil {
			return err
		}
		c.Export.Text, c.Export.JSON, c.Export.Markdown = exp.Text, exp.JSON, exp.Markdown
	}
	if f.set["export-txt"] {
		c.Export.Text = f.exportText
	}
	if f.set["export-json"] {
		c.Export.JSON = f.exportJSON
	}
	if f.set["export-md"] {
		c.Export.Markdown = f.exportMarkdown
	}
	if f.set["force-ocr"] {
		c.Policy.ForceOCR = f.forceOCR
	}
	if f.set["min-embedded-chars"] {
		c.Policy.MinEmbeddedChars = f.minEmbeddedChars
	}
	if f.set["render-scale"] {
		c.Policy.RenderScale = f.renderScale
	}
	if f.set["lang"] {
		c.Policy.Language = f.lang
	}
	if f.set["use-gpu"] {
		c.Engine.UseGPU = f.useGPU
	}
	if f.set["workers"] {
		c.Export.Workers = f.workers
	}
	if f.set["publish"] {
		c.Storage.Publish = f.publish
	}
	if !c.Export.JSON && !c.Export.Markdown && c.Engine.Structure != cfg.EngineNone {
		// text-only runs never load the structure engine
		c.Engine.Structure = cfg.EngineNone
	}
	return c.Validate()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	c, err := cfg.Load(f.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := f.apply(c); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if _, err := batch.CheckRoot(f.root); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log, err := logger.NewLogger(c.Log.LoggerOptions()...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, engines, err := document.BuildRunner(ctx, log, c, c.Engine.Structure != cfg.EngineNone)
	if err != nil {
		log.Error("Failed to initialize", logger.Error(err))
		return 1
	}
	defer engines.Close()
	fmt.Println(engines.Describe())

	opts := document.BatchOptions(c.Export)
	opts.Progress = func(p batch.Progress) {
		if p.Page == 0 {
			fmt.Printf("[%d/%d] %s %s\n", p.Index, p.Total, p.Status, p.Document)
		}
	}

	res, err := orch.Run(ctx, f.root, opts, c.Policy)
	if res != nil {
		fmt.Println(res.Summary.String())
		if res.SummaryPath != "" {
			fmt.Printf("Saved summary to: %s\n", res.SummaryPath)
		}
	}
	if err != nil {
		log.Error("Batch failed", logger.Error(err))
		return 1
	}

	if c.Storage.Publish != "" && c.Storage.Publish != cfg.PublishNone {
		if err := publish(ctx, log, c, res); err != nil {
			log.Error("Publish failed", logger.Error(err))
			return 1
		}
	}
	return 0
}

func publish(ctx context.Context, log logger.Logger, c *cfg.Config, res *batch.Result) error {
	store, err := storage.NewStorage(ctx, storage.StorageType(c.Storage.Publish), log.Named("storage"))
	if err != nil {
		return err
	}
	total := 0
	for _, root := range []string{res.TextRoot, res.StructuredRoot} {
		if root == "" {
			continue
		}
		n, err := storage.Publish(ctx, store, root, c.Storage.Prefix, log)
		if err != nil {
			return err
		}
		total += n
	}
	fmt.Printf("Published %d files to %s\n", total, c.Storage.Publish)
	return nil
}
