package image

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document"
	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
	AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
	FeatureTypes  []types.FeatureType
	// Charts keeps LAYOUT_FIGURE regions.
	Charts bool
}

// TextractEngine implements document.Recognizer and document.Analyzer on AWS Textract.
// The SDK client is safe for concurrent use.
type TextractEngine struct {
	client   TextractAPI
	logger   logger.Logger
	config   *TextractConfig
	pipeline Pipeline
}

var (
	_ document.Recognizer = (*TextractEngine)(nil)
	_ document.Analyzer   = (*TextractEngine)(nil)
)

// NewTextractClient builds an SDK client, using static credentials when given.
func NewTextractClient(ctx context.Context, cfg *TextractConfig) (*textract.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	// load aws config
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return textract.NewFromConfig(awsCfg), nil
}

func NewTextractEngine(client TextractAPI, cfg *TextractConfig, pipeline Pipeline, log logger.Logger) *TextractEngine {
	if len(cfg.FeatureTypes) == 0 {
		cfg.FeatureTypes = []types.FeatureType{
			types.FeatureTypeTables,
			types.FeatureTypeForms,
			types.FeatureTypeLayout,
		}
	}
	return &TextractEngine{
		client:   client,
		logger:   log,
		config:   cfg,
		pipeline: pipeline,
	}
}

func (p *TextractEngine) Name() string { return "textract" }

// Recognize returns LINE blocks in service order.
func (p *TextractEngine) Recognize(ctx context.Context, img []byte) ([]document.Line, error) {
	data, bounds, err := p.pipeline.Prepare(img)
	if err != nil {
		return nil, err
	}

	result, err := p.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to detect document text: %w", err)
	}

	var lines []document.Line
	for _, block := range result.Blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		conf := aws.ToFloat32(block.Confidence)
		if conf < p.config.MinConfidence {
			continue
		}
		lines = append(lines, document.Line{
			Text:       strings.TrimSpace(*block.Text),
			Confidence: float64(conf),
			Box:        pixelBox(block.Geometry, bounds),
		})
	}
	return lines, nil
}

// Analyze returns one layout built from LAYOUT, TABLE and KEY_VALUE_SET blocks.
func (p *TextractEngine) Analyze(ctx context.Context, img []byte) ([]document.Layout, error) {
	data, bounds, err := p.pipeline.Prepare(img)
	if err != nil {
		return nil, err
	}

	result, err := p.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     &types.Document{Bytes: data},
		FeatureTypes: p.config.FeatureTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze document: %w", err)
	}

	return []document.Layout{{
		Engine:  p.Name(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Regions: newBlockIndex(result.Blocks).regions(bounds, p.config.Charts),
	}}, nil
}

var layoutKinds = map[types.BlockType]string{
	types.BlockTypeLayoutTitle:         document.KindTitle,
	types.BlockTypeLayoutSectionHeader: document.KindTitle,
	types.BlockTypeLayoutText:          document.KindText,
	types.BlockTypeLayoutList:          document.KindList,
	types.BlockTypeLayoutFigure:        document.KindFigure,
	types.BlockTypeLayoutHeader:        document.KindHeader,
	types.BlockTypeLayoutFooter:        document.KindFooter,
	types.BlockTypeLayoutPageNumber:    document.KindFooter,
}

type blockIndex struct {
	blocks []types.Block
	byID   map[string]types.Block
}

func newBlockIndex(blocks []types.Block) *blockIndex {
	idx := &blockIndex{blocks: blocks, byID: make(map[string]types.Block, len(blocks))}
	for _, b := range blocks {
		if b.Id != nil {
			idx.byID[*b.Id] = b
		}
	}
	return idx
}

func (idx *blockIndex) regions(bounds image.Rectangle, charts bool) []document.Region {
	var regions []document.Region
	hasLayout := false
	for _, b := range idx.blocks {
		switch {
		case b.BlockType == types.BlockTypeTable:
			regions = append(regions, document.Region{
				Kind: document.KindTable,
				Box:  pixelBox(b.Geometry, bounds),
				Rows: idx.tableRows(b),
			})
		case b.BlockType == types.BlockTypeKeyValueSet && isKey(b):
			key := idx.childText(b)
			if key == "" {
				continue
			}
			regions = append(regions, document.Region{
				Kind:       document.KindKeyValue,
				Box:        pixelBox(b.Geometry, bounds),
				Key:        key,
				Text:       idx.valueText(b),
				Confidence: float64(aws.ToFloat32(b.Confidence)),
			})
		default:
			kind, ok := layoutKinds[b.BlockType]
			if !ok {
				continue
			}
			hasLayout = true
			if kind == document.KindFigure && !charts {
				continue
			}
			regions = append(regions, document.Region{
				Kind:       kind,
				Box:        pixelBox(b.Geometry, bounds),
				Text:       idx.lineText(b),
				Confidence: float64(aws.ToFloat32(b.Confidence)),
			})
		}
	}

	// without the LAYOUT feature fall back to plain lines
	if !hasLayout {
		for _, b := range idx.blocks {
			if b.BlockType == types.BlockTypeLine && b.Text != nil {
				regions = append(regions, document.Region{
					Kind:       document.KindText,
					Box:        pixelBox(b.Geometry, bounds),
					Text:       *b.Text,
					Confidence: float64(aws.ToFloat32(b.Confidence)),
				})
			}
		}
	}
	return regions
}

func isKey(b types.Block) bool {
	for _, t := range b.EntityTypes {
		if t == types.EntityTypeKey {
			return true
		}
	}
	return false
}

func (idx *blockIndex) children(b types.Block, rel types.RelationshipType) []types.Block {
	var out []types.Block
	for _, r := range b.Relationships {
		if r.Type != rel {
			continue
		}
		for _, id := range r.Ids {
			if child, ok := idx.byID[id]; ok {
				out = append(out, child)
			}
		}
	}
	return out
}

// childText joins WORD children with spaces.
func (idx *blockIndex) childText(b types.Block) string {
	var words []string
	for _, c := range idx.children(b, types.RelationshipTypeChild) {
		if c.BlockType == types.BlockTypeWord && c.Text != nil {
			words = append(words, *c.Text)
		}
	}
	return strings.Join(words, " ")
}

// lineText joins LINE children of a layout block with newlines.
func (idx *blockIndex) lineText(b types.Block) string {
	var lines []string
	for _, c := range idx.children(b, types.RelationshipTypeChild) {
		if c.BlockType == types.BlockTypeLine && c.Text != nil {
			lines = append(lines, *c.Text)
		}
	}
	return strings.Join(lines, "\n")
}

func (idx *blockIndex) valueText(key types.Block) string {
	for _, v := range idx.children(key, types.RelationshipTypeValue) {
		return idx.childText(v)
	}
	return ""
}

func (idx *blockIndex) tableRows(table types.Block) [][]string {
	var rows [][]string
	for _, cell := range idx.children(table, types.RelationshipTypeChild) {
		if cell.BlockType != types.BlockTypeCell || cell.RowIndex == nil || cell.ColumnIndex == nil {
			continue
		}
		r, c := int(*cell.RowIndex)-1, int(*cell.ColumnIndex)-1
		if r < 0 || c < 0 {
			continue
		}
		for len(rows) <= r {
			rows = append(rows, nil)
		}
		for len(rows[r]) <= c {
			rows[r] = append(rows[r], "")
		}
		rows[r][c] = idx.childText(cell)
	}
	return rows
}

// pixelBox converts Textract's relative geometry to pixels.
func pixelBox(g *types.Geometry, bounds image.Rectangle) document.Box {
	if g == nil || g.BoundingBox == nil {
		return document.Box{}
	}
	bb := g.BoundingBox
	w, h := float32(bounds.Dx()), float32(bounds.Dy())
	return document.Box{
		X0: int(bb.Left * w),
		Y0: int(bb.Top * h),
		X1: int((bb.Left + bb.Width) * w),
		Y1: int((bb.Top + bb.Height) * h),
	}
}
