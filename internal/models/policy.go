package models

import (
	"errors"
	"fmt"
)

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("invalid extraction policy")

// EmbeddedRule selects how embedded page text is accepted.
type EmbeddedRule string

const (
	// RuleQuality accepts embedded text when it is long enough and readable.
	RuleQuality EmbeddedRule = "quality"
	// RuleLength accepts embedded text on length alone.
	RuleLength EmbeddedRule = "length"
)

// Policy is the immutable configuration consumed by the page decider.
type Policy struct {
	MinEmbeddedChars int          `json:"minEmbeddedChars" yaml:"min_embedded_chars"`
	ForceOCR         bool         `json:"forceOcr" yaml:"force_ocr"`
	RenderScale      float64      `json:"renderScale" yaml:"render_scale"`
	Language         string       `json:"language" yaml:"language"`
	EmbeddedRule     EmbeddedRule `json:"embeddedRule" yaml:"embedded_rule"`
}

// DefaultPolicy mirrors the headless runner defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinEmbeddedChars: 300,
		RenderScale:      2.0,
		Language:         "en",
		EmbeddedRule:     RuleQuality,
	}
}

func (p Policy) Validate() error {
	if p.RenderScale <= 0 {
		return fmt.Errorf("%w: render scale must be > 0, got %v", ErrInvalidPolicy, p.RenderScale)
	}
	if p.MinEmbeddedChars < 0 {
		return fmt.Errorf("%w: min embedded chars must be >= 0, got %d", ErrInvalidPolicy, p.MinEmbeddedChars)
	}
	switch p.EmbeddedRule {
	case RuleQuality, RuleLength:
	default:
		return fmt.Errorf("%w: unknown embedded rule %q", ErrInvalidPolicy, p.EmbeddedRule)
	}
	return nil
}

// ExportOptions selects which artifacts a batch run writes.
type ExportOptions struct {
	Text     bool `json:"text" yaml:"text"`
	JSON     bool `json:"json" yaml:"json"`
	Markdown bool `json:"markdown" yaml:"markdown"`
}

// Structured reports whether any structured artifact is requested.
func (o ExportOptions) Structured() bool {
	return o.JSON || o.Markdown
}

// ClassicExport is text-only output.
func ClassicExport() ExportOptions {
	return ExportOptions{Text: true}
}

// StructureExport is text plus JSON and Markdown.
func StructureExport() ExportOptions {
	return ExportOptions{Text: true, JSON: true, Markdown: true}
}

// Run modes accepted by the CLI and the API.
const (
	ModeClassic   = "classic"
	ModeStructure = "structure"
)

// ExportForMode maps a run mode to its export options.
func ExportForMode(mode string) (ExportOptions, error) {
	switch mode {
	case ModeClassic:
		return ClassicExport(), nil
	case ModeStructure:
		return StructureExport(), nil
	default:
		return ExportOptions{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, mode)
	}
}
