package agent

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/otiai10/gosseract/v2"

	cfg "github.com/feichai0017/pdf-batch-ocr/config"
	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document"
	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document/image"
	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document/image/tesseract"
	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document/pdf"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// ErrDeviceUnavailable is returned when a GPU is required but the engine has none.
var ErrDeviceUnavailable = errors.New("requested compute device unavailable")

// Devices reported by Engines.
const (
	DeviceCPU   = "cpu"
	DeviceCloud = "cloud"
)

// Engines holds the process-wide recognition and layout engines. They are
// created once, shared by every document, and closed at exit.
type Engines struct {
	Recognizer document.Recognizer
	// Analyzer is nil when no structure engine is configured.
	Analyzer document.Analyzer
	Device   string
	Language string

	closers []io.Closer
}

// Describe is the one-line initialization report.
func (e *Engines) Describe() string {
	return fmt.Sprintf("Pipelines initialized (Device: %s, Lang: %s)", e.Device, e.Language)
}

// Close releases every engine.
func (e *Engines) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i].Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// ResolveDevice picks the compute device once. Tesseract runs on the CPU only,
// so a required GPU is a configuration failure and a requested one downgrades.
func ResolveDevice(backend string, useGPU, requireGPU bool, log logger.Logger) (string, error) {
	if backend == cfg.EngineTextract {
		return DeviceCloud, nil
	}
	if requireGPU {
		return "", fmt.Errorf("%w: %s has no GPU backend", ErrDeviceUnavailable, backend)
	}
	if useGPU {
		log.Warn("GPU requested but not available, falling back to CPU",
			logger.String("engine", backend))
	}
	return DeviceCPU, nil
}

// NewEngines builds the recognizer and, when withStructure is set, the analyzer.
func NewEngines(ctx context.Context, log logger.Logger, ec cfg.EngineConfig, policy models.Policy, withStructure bool) (*Engines, error) {
	device, err := ResolveDevice(ec.OCR, ec.UseGPU, ec.RequireGPU, log)
	if err != nil {
		return nil, err
	}

	engines := &Engines{Device: device, Language: policy.Language}

	recognizer, closer, err := newBackend(ctx, log, ec.OCR, ec, policy, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s recognizer: %w", ec.OCR, err)
	}
	engines.Recognizer = recognizer
	engines.add(closer)

	if withStructure && ec.Structure != cfg.EngineNone {
		if _, err := ResolveDevice(ec.Structure, ec.UseGPU, ec.RequireGPU, log); err != nil {
			engines.Close()
			return nil, err
		}
		analyzer, closer, err := newBackend(ctx, log, ec.Structure, ec, policy, true)
		if err != nil {
			engines.Close()
			return nil, fmt.Errorf("failed to create %s analyzer: %w", ec.Structure, err)
		}
		engines.Analyzer = analyzer
		engines.add(closer)
	}

	log.Info(engines.Describe(),
		logger.String("ocr", ec.OCR),
		logger.String("structure", ec.Structure),
		logger.Bool("structured", engines.Analyzer != nil),
	)
	return engines, nil
}

func (e *Engines) add(c io.Closer) {
	if c != nil {
		e.closers = append(e.closers, c)
	}
}

// backend is implemented by both engines.
type backend interface {
	document.Recognizer
	document.Analyzer
}

// newBackend creates an engine. Structure engines get the orientation,
// unwarp, textline and chart toggles; recognizers run without them.
func newBackend(ctx context.Context, log logger.Logger, kind string, ec cfg.EngineConfig, policy models.Policy, structure bool) (backend, io.Closer, error) {
	pre := ec.Preprocess
	pre.Deskew = structure && ec.Unwarp

	switch kind {
	case cfg.EngineTesseract:
		langs, err := image.TesseractLanguages(policy.Language)
		if err != nil {
			return nil, nil, err
		}
		engine, err := tesseract.NewEngine(log.Named("tesseract"), tesseract.Config{
			Languages:         langs,
			PageSegMode:       gosseract.PageSegMode(ec.PageSegMode),
			DPI:               pdf.DPI(policy.RenderScale),
			MinConfidence:     ec.MinConfidence,
			DetectOrientation: structure && ec.Orientation,
			VerticalText:      structure && ec.Textline,
			Charts:            structure && ec.Charts,
			Variables:         ec.Variables,
		}, image.NewPipeline(pre))
		if err != nil {
			return nil, nil, err
		}
		return engine, engine, nil

	case cfg.EngineTextract:
		tc, err := cfg.GetTextractConfig()
		if err != nil {
			return nil, nil, err
		}
		textractConfig := &image.TextractConfig{
			Region:        tc.Region,
			AccessKey:     tc.AccessKey,
			SecretKey:     tc.SecretKey,
			MinConfidence: tc.MinConfidence,
			Charts:        structure && ec.Charts,
		}
		client, err := image.NewTextractClient(ctx, textractConfig)
		if err != nil {
			return nil, nil, err
		}
		return image.NewTextractEngine(client, textractConfig, image.NewPipeline(pre), log.Named("textract")), nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported engine %q", kind)
	}
}
