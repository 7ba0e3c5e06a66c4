package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document/image"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// ErrInvalidConfig is returned by Validate and Load.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BATCHOCR_"

// Engine backends.
const (
	EngineTesseract = "tesseract"
	EngineTextract  = "textract"
	EngineNone      = "none"
)

// Publish targets.
const (
	PublishNone  = "none"
	PublishS3    = "s3"
	PublishMinio = "minio"
)

// Config is the full runtime configuration.
type Config struct {
	Policy     models.Policy    `yaml:"policy"`
	Export     ExportConfig     `yaml:"export"`
	Engine     EngineConfig     `yaml:"engine"`
	Rasterizer RasterizerConfig `yaml:"rasterizer"`
	Log        LogConfig        `yaml:"log"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
}

type ExportConfig struct {
	Text     bool `yaml:"text"`
	JSON     bool `yaml:"json"`
	Markdown bool `yaml:"markdown"`
	// TextDir and StructuredDir are resolved against the batch root when relative.
	TextDir       string   `yaml:"text_dir"`
	StructuredDir string   `yaml:"structured_dir"`
	Extensions    []string `yaml:"extensions"`
	Workers       int      `yaml:"workers"`
	ValidatePDF   bool     `yaml:"validate_pdf"`
	MaxFileSize   int64    `yaml:"max_file_size"`
	MaxPages      int      `yaml:"max_pages"`
}

// Options converts the export toggles.
func (e ExportConfig) Options() models.ExportOptions {
	return models.ExportOptions{Text: e.Text, JSON: e.JSON, Markdown: e.Markdown}
}

type EngineConfig struct {
	OCR           string                 `yaml:"ocr"`
	Structure     string                 `yaml:"structure"`
	UseGPU        bool                   `yaml:"use_gpu"`
	RequireGPU    bool                   `yaml:"require_gpu"`
	PageSegMode   int                    `yaml:"page_seg_mode"`
	MinConfidence float64                `yaml:"min_confidence"`
	Preprocess    image.PreprocessConfig `yaml:"preprocess"`
	Orientation   bool                   `yaml:"orientation"`
	Unwarp        bool                   `yaml:"unwarp"`
	Textline      bool                   `yaml:"textline"`
	Charts        bool                   `yaml:"charts"`
	Variables     map[string]string      `yaml:"variables"`
}

type RasterizerConfig struct {
	Pdftoppm string `yaml:"pdftoppm"`
	TempDir  string `yaml:"temp_dir"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"output_paths"`
}

// LoggerOptions converts the log section into logger options.
func (l LogConfig) LoggerOptions() []logger.Option {
	opts := []logger.Option{logger.WithLevel(l.Level), logger.WithEncoding(l.Encoding)}
	if len(l.OutputPaths) > 0 {
		opts = append(opts, logger.WithOutputPaths(l.OutputPaths))
	}
	return opts
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Concurrency int            `yaml:"concurrency"`
	Queues      map[string]int `yaml:"queues"`
	StatusTTL   time.Duration  `yaml:"status_ttl"`
	Timeout     time.Duration  `yaml:"timeout"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// AllowedRoots restricts batch roots accepted over HTTP. Empty allows any.
	AllowedRoots []string `yaml:"allowed_roots"`
}

type StorageConfig struct {
	Publish string `yaml:"publish"`
	Prefix  string `yaml:"prefix"`
}

// Default mirrors the headless runner defaults.
func Default() *Config {
	return &Config{
		Policy: models.DefaultPolicy(),
		Export: ExportConfig{
			Text:          true,
			TextDir:       "ocr_results",
			StructuredDir: "doc_results",
			Extensions:    []string{".pdf"},
			Workers:       1,
		},
		Engine: EngineConfig{
			OCR:           EngineTesseract,
			Structure:     EngineTesseract,
			MinConfidence: 0,
			Preprocess:    image.DefaultPreprocessConfig(),
			Orientation:   true,
			Unwarp:        true,
			Textline:      true,
		},
		Log: LogConfig{
			Level:       "info",
			Encoding:    "console",
			OutputPaths: []string{"stdout"},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Queue: QueueConfig{
			Concurrency: 2,
			Queues:      map[string]int{"critical": 6, "default": 3, "low": 1},
			StatusTTL:   24 * time.Hour,
			Timeout:     6 * time.Hour,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{Publish: PublishNone},
	}
}

// Load reads defaults, then the YAML file at path (optional), then .env and
// BATCHOCR_* overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	loadDotEnv()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	p := EnvPrefix
	envString(p+"LANG", &c.Policy.Language)
	var rule string
	envString(p+"EMBEDDED_RULE", &rule)
	if rule != "" {
		c.Policy.EmbeddedRule = models.EmbeddedRule(rule)
	}
	envString(p+"OCR_ENGINE", &c.Engine.OCR)
	envString(p+"STRUCTURE_ENGINE", &c.Engine.Structure)
	envString(p+"PDFTOPPM", &c.Rasterizer.Pdftoppm)
	envString(p+"TEMP_DIR", &c.Rasterizer.TempDir)
	envString(p+"TEXT_DIR", &c.Export.TextDir)
	envString(p+"STRUCTURED_DIR", &c.Export.StructuredDir)
	envList(p+"EXTENSIONS", &c.Export.Extensions)
	envString(p+"LOG_LEVEL", &c.Log.Level)
	envString(p+"LOG_ENCODING", &c.Log.Encoding)
	envString(p+"REDIS_ADDR", &c.Redis.Addr)
	envString(p+"REDIS_PASSWORD", &c.Redis.Password)
	envString(p+"SERVER_ADDR", &c.Server.Addr)
	envList(p+"ALLOWED_ROOTS", &c.Server.AllowedRoots)
	envString(p+"PUBLISH", &c.Storage.Publish)
	envString(p+"PUBLISH_PREFIX", &c.Storage.Prefix)

	return errors.Join(
		envBool(p+"FORCE_OCR", &c.Policy.ForceOCR),
		envInt(p+"MIN_EMBEDDED_CHARS", &c.Policy.MinEmbeddedChars),
		envFloat(p+"RENDER_SCALE", &c.Policy.RenderScale),
		envBool(p+"USE_GPU", &c.Engine.UseGPU),
		envBool(p+"REQUIRE_GPU", &c.Engine.RequireGPU),
		envBool(p+"EXPORT_TEXT", &c.Export.Text),
		envBool(p+"EXPORT_JSON", &c.Export.JSON),
		envBool(p+"EXPORT_MARKDOWN", &c.Export.Markdown),
		envBool(p+"VALIDATE_PDF", &c.Export.ValidatePDF),
		envInt(p+"WORKERS", &c.Export.Workers),
		envInt(p+"REDIS_DB", &c.Redis.DB),
		envInt(p+"QUEUE_CONCURRENCY", &c.Queue.Concurrency),
	)
}

func envError(key, value string, err error) error {
	return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, value, err)
}

// Validate checks cross-field invariants and normalizes extensions to a
// leading dot.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !c.Export.Text && !c.Export.JSON && !c.Export.Markdown {
		errs = append(errs, fmt.Errorf("%w: at least one export format must be enabled", ErrInvalidConfig))
	}
	if c.Export.Workers < 1 {
		errs = append(errs, fmt.Errorf("%w: export.workers must be >= 1, got %d", ErrInvalidConfig, c.Export.Workers))
	}
	if c.Export.TextDir == "" || c.Export.StructuredDir == "" {
		errs = append(errs, fmt.Errorf("%w: output directories must not be empty", ErrInvalidConfig))
	}
	if len(c.Export.Extensions) == 0 {
		errs = append(errs, fmt.Errorf("%w: export.extensions must not be empty", ErrInvalidConfig))
	}
	for i, ext := range c.Export.Extensions {
		if !strings.HasPrefix(ext, ".") {
			c.Export.Extensions[i] = "." + ext
		}
	}
	switch c.Engine.OCR {
	case EngineTesseract, EngineTextract:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown ocr engine %q", ErrInvalidConfig, c.Engine.OCR))
	}
	switch c.Engine.Structure {
	case EngineTesseract, EngineTextract, EngineNone:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown structure engine %q", ErrInvalidConfig, c.Engine.Structure))
	}
	if (c.Export.JSON || c.Export.Markdown) && c.Engine.Structure == EngineNone {
		errs = append(errs, fmt.Errorf("%w: structured export requires a structure engine", ErrInvalidConfig))
	}
	switch c.Storage.Publish {
	case "", PublishNone, PublishS3, PublishMinio:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown publish target %q", ErrInvalidConfig, c.Storage.Publish))
	}
	return errors.Join(errs...)
}
