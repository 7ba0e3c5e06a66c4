// internal/agent/document/image/tesseract/tesseract.go
package tesseract

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document"
	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document/image"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// Config 识别选项
type Config struct {
	Languages     []string
	PageSegMode   gosseract.PageSegMode
	DPI           int
	MinConfidence float64
	// DetectOrientation lets tesseract classify page orientation (needs osd.traineddata).
	DetectOrientation bool
	// VerticalText enables text line orientation detection for vertical lines.
	VerticalText bool
	// Charts emits text-free blocks as figure regions.
	Charts    bool
	Variables map[string]string
}

// Engine is both a document.Recognizer and a document.Analyzer.
// The underlying client is not reentrant, so calls are serialized.
type Engine struct {
	mu       sync.Mutex
	client   *gosseract.Client
	logger   logger.Logger
	config   Config
	pipeline image.Pipeline
}

var (
	_ document.Recognizer = (*Engine)(nil)
	_ document.Analyzer   = (*Engine)(nil)
)

// NewEngine 创建新的Tesseract引擎
func NewEngine(log logger.Logger, cfg Config, pipeline image.Pipeline) (*Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_AUTO
	}
	if cfg.DetectOrientation {
		cfg.PageSegMode = gosseract.PSM_AUTO_OSD
	}

	client := gosseract.NewClient()
	if err := configureClient(client, cfg); err != nil {
		client.Close()
		return nil, err
	}

	return &Engine{
		client:   client,
		logger:   log,
		config:   cfg,
		pipeline: pipeline,
	}, nil
}

func configureClient(client *gosseract.Client, cfg Config) error {
	if err := client.SetLanguage(cfg.Languages...); err != nil {
		return fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(cfg.PageSegMode); err != nil {
		return fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if cfg.DPI > 0 {
		if err := client.SetVariable("user_defined_dpi", strconv.Itoa(cfg.DPI)); err != nil {
			return fmt.Errorf("failed to set dpi: %w", err)
		}
	}
	if cfg.VerticalText {
		if err := client.SetVariable("textord_tabfind_vertical_text", "1"); err != nil {
			return fmt.Errorf("failed to enable vertical text: %w", err)
		}
	}
	for k, v := range cfg.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return fmt.Errorf("failed to set variable %s: %w", k, err)
		}
	}
	return nil
}

// Name is used in logs and layout results.
func (e *Engine) Name() string { return "tesseract" }

// Recognize returns text lines in tesseract reading order.
func (e *Engine) Recognize(ctx context.Context, img []byte) ([]document.Line, error) {
	data, _, err := e.pipeline.Prepare(img)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	if _, err := e.client.Text(); err != nil {
		return nil, fmt.Errorf("failed to get text: %w", err)
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("failed to get text lines: %w", err)
	}
	return linesFromBoxes(boxes, e.config.MinConfidence), nil
}

func linesFromBoxes(boxes []gosseract.BoundingBox, minConfidence float64) []document.Line {
	lines := make([]document.Line, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" || b.Confidence < minConfidence {
			continue
		}
		lines = append(lines, document.Line{
			Text:       text,
			Confidence: b.Confidence,
			Box:        document.BoxFromRect(b.Box),
		})
	}
	return lines
}

// Analyze groups recognized words into paragraph regions.
func (e *Engine) Analyze(ctx context.Context, img []byte) ([]document.Layout, error) {
	data, bounds, err := e.pipeline.Prepare(img)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.client.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	words, err := e.client.GetBoundingBoxesVerbose()
	if err != nil {
		return nil, fmt.Errorf("failed to get word boxes: %w", err)
	}
	var blocks []gosseract.BoundingBox
	if e.config.Charts {
		if blocks, err = e.client.GetBoundingBoxes(gosseract.RIL_BLOCK); err != nil {
			e.logger.Warn("Failed to get block boxes", logger.Error(err))
			blocks = nil
		}
	}

	return []document.Layout{{
		Engine:  e.Name(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Regions: buildRegions(words, blocks, e.config.MinConfidence),
	}}, nil
}

type paragraph struct {
	block, para int
	lines       []string
	heights     []int
	box         document.Box
	confSum     float64
	words       int
}

func (p *paragraph) add(w gosseract.BoundingBox, newLine bool) {
	text := strings.TrimSpace(w.Word)
	if newLine || len(p.lines) == 0 {
		p.lines = append(p.lines, text)
		p.heights = append(p.heights, w.Box.Dy())
	} else {
		i := len(p.lines) - 1
		p.lines[i] += " " + text
		if h := w.Box.Dy(); h > p.heights[i] {
			p.heights[i] = h
		}
	}
	if p.words == 0 {
		p.box = document.BoxFromRect(w.Box)
	} else {
		p.box = union(p.box, document.BoxFromRect(w.Box))
	}
	p.confSum += w.Confidence
	p.words++
}

// buildRegions turns word boxes (with block/paragraph/line numbers) into
// regions. Text-free blocks become figures. Regions are ordered top to bottom.
func buildRegions(words, blocks []gosseract.BoundingBox, minConfidence float64) []document.Region {
	var paras []*paragraph
	var cur *paragraph
	lastLine := -1
	for _, w := range words {
		if strings.TrimSpace(w.Word) == "" || w.Confidence < minConfidence {
			continue
		}
		if cur == nil || cur.block != w.BlockNum || cur.para != w.ParNum {
			cur = &paragraph{block: w.BlockNum, para: w.ParNum}
			paras = append(paras, cur)
			lastLine = -1
		}
		cur.add(w, w.LineNum != lastLine)
		lastLine = w.LineNum
	}

	median := medianLineHeight(paras)
	regions := make([]document.Region, 0, len(paras)+len(blocks))
	for _, p := range paras {
		regions = append(regions, document.Region{
			Kind:       classify(p, median),
			Box:        p.box,
			Text:       strings.Join(p.lines, "\n"),
			Confidence: p.confSum / float64(p.words),
		})
	}
	for _, b := range blocks {
		if strings.TrimSpace(b.Word) == "" && !b.Box.Empty() {
			regions = append(regions, document.Region{Kind: document.KindFigure, Box: document.BoxFromRect(b.Box)})
		}
	}

	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Box.Y0 != regions[j].Box.Y0 {
			return regions[i].Box.Y0 < regions[j].Box.Y0
		}
		return regions[i].Box.X0 < regions[j].Box.X0
	})
	return regions
}

func classify(p *paragraph, medianHeight int) string {
	if len(p.lines) == 1 && medianHeight > 0 && p.heights[0]*2 >= medianHeight*3 {
		return document.KindTitle
	}
	for _, l := range p.lines {
		if !isListItem(l) {
			return document.KindText
		}
	}
	return document.KindList
}

func isListItem(line string) bool {
	for _, bullet := range []string{"•", "-", "*", "–", "·"} {
		if strings.HasPrefix(line, bullet+" ") {
			return true
		}
	}
	head, _, found := strings.Cut(line, " ")
	if !found || len(head) < 2 {
		return false
	}
	last := head[len(head)-1]
	if last != '.' && last != ')' {
		return false
	}
	_, err := strconv.Atoi(head[:len(head)-1])
	return err == nil
}

func medianLineHeight(paras []*paragraph) int {
	var hs []int
	for _, p := range paras {
		hs = append(hs, p.heights...)
	}
	if len(hs) == 0 {
		return 0
	}
	sort.Ints(hs)
	return hs[len(hs)/2]
}

func union(a, b document.Box) document.Box {
	return document.Box{
		X0: min(a.X0, b.X0),
		Y0: min(a.Y0, b.Y0),
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
	}
}

// Close 释放Tesseract客户端
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}
