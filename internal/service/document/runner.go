package document

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/pdf-batch-ocr/config"
	"github.com/feichai0017/pdf-batch-ocr/internal/agent"
	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document/pdf"
	"github.com/feichai0017/pdf-batch-ocr/internal/batch"
	"github.com/feichai0017/pdf-batch-ocr/internal/export"
	"github.com/feichai0017/pdf-batch-ocr/internal/extract"
	"github.com/feichai0017/pdf-batch-ocr/internal/utils/validator"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// BuildRunner wires the engines, PDF access, extraction and structured export
// into an orchestrator. The caller owns the returned engines and must close
// them at exit. withStructure loads the structure engine.
func BuildRunner(ctx context.Context, log logger.Logger, c *cfg.Config, withStructure bool) (*batch.Orchestrator, *agent.Engines, error) {
	engines, err := agent.NewEngines(ctx, log.Named("engines"), c.Engine, c.Policy, withStructure)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize engines: %w", err)
	}

	var v *validator.DocumentValidator
	if c.Export.ValidatePDF {
		vc := validator.DefaultValidatorConfig()
		vc.StructuralCheck = true
		if c.Export.MaxFileSize > 0 {
			vc.MaxFileSize = c.Export.MaxFileSize
		}
		vc.MaxPageCount = c.Export.MaxPages
		v = validator.NewDocumentValidator(log.Named("validator"), vc)
	}

	opener := pdf.NewProcessor(log.Named("pdf"), pdf.Options{
		PdftoppmPath: c.Rasterizer.Pdftoppm,
		TempDir:      c.Rasterizer.TempDir,
		Validator:    v,
	})
	extractor := extract.NewExtractor(opener, engines.Recognizer, log.Named("extract"))

	var coord *export.Coordinator
	if engines.Analyzer != nil {
		coord, err = export.NewCoordinator(engines.Analyzer, c.Export.Options(), log.Named("export"))
		if err != nil {
			engines.Close()
			return nil, nil, err
		}
	}

	return batch.NewOrchestrator(extractor, coord, log.Named("batch")), engines, nil
}

// BatchOptions converts the export section into orchestrator options.
func BatchOptions(e cfg.ExportConfig) batch.Options {
	return batch.Options{
		Export:        e.Options(),
		TextDir:       e.TextDir,
		StructuredDir: e.StructuredDir,
		Extensions:    e.Extensions,
		Workers:       e.Workers,
	}
}
