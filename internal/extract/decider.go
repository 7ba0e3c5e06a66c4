package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document"
	"github.com/feichai0017/pdf-batch-ocr/internal/models"
	"github.com/feichai0017/pdf-batch-ocr/internal/utils/validator"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// Decider chooses, per page, between the embedded text layer and OCR.
type Decider struct {
	ocr    document.Recognizer
	logger logger.Logger
}

func NewDecider(ocr document.Recognizer, log logger.Logger) *Decider {
	return &Decider{ocr: ocr, logger: log}
}

// AcceptEmbedded applies the policy's embedded rule to a page's text layer.
// The text must be non-empty after trimming in every mode.
func AcceptEmbedded(text string, policy models.Policy) bool {
	trimmed := strings.TrimSpace(text)
	n := utf8.RuneCountInString(trimmed)
	if n == 0 || n < policy.MinEmbeddedChars {
		return false
	}
	if policy.EmbeddedRule == models.RuleLength {
		return true
	}
	return validator.IsReadable(trimmed)
}

// Decide produces the outcome for one page. It never returns an error: render
// and recognition failures become an outcome with MethodError so sibling
// pages keep going. Any raster it renders is closed before returning.
func (d *Decider) Decide(ctx context.Context, page document.Page, policy models.Policy) models.PageOutcome {
	out := models.PageOutcome{Page: page.Number()}

	if !policy.ForceOCR {
		text, err := page.EmbeddedText()
		if err != nil {
			d.logger.Warn("Embedded text unreadable, falling back to OCR",
				logger.Int("page", out.Page),
				logger.Error(err),
			)
		} else if AcceptEmbedded(text, policy) {
			out.Method = models.MethodEmbedded
			out.Text = strings.TrimSpace(text)
			return out
		}
	}

	text, err := d.recognize(ctx, page, policy.RenderScale)
	if err != nil {
		out.Method = models.MethodError
		out.Error = err.Error()
		return out
	}
	if text == "" {
		out.Method = models.MethodOCREmpty
		return out
	}
	out.Method = models.MethodOCR
	out.Text = text
	return out
}

func (d *Decider) recognize(ctx context.Context, page document.Page, scale float64) (string, error) {
	raster, err := page.Render(ctx, scale)
	if err != nil {
		return "", fmt.Errorf("failed to render page %d: %w", page.Number(), err)
	}
	defer func() {
		if err := raster.Close(); err != nil {
			d.logger.Warn("Failed to remove page image",
				logger.Int("page", page.Number()),
				logger.Error(err),
			)
		}
	}()

	img, err := raster.Bytes()
	if err != nil {
		return "", fmt.Errorf("failed to read page %d image: %w", page.Number(), err)
	}

	lines, err := d.ocr.Recognize(ctx, img)
	if err != nil {
		return "", fmt.Errorf("failed to recognize page %d: %w", page.Number(), err)
	}

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if validator.IsReadable(line.Text) {
			kept = append(kept, line.Text)
		}
	}
	return strings.Join(kept, "\n"), nil
}
