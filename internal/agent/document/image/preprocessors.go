package image

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Preprocessor transforms a page image before recognition.
type Preprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// PreprocessConfig 预处理配置
type PreprocessConfig struct {
	Grayscale         bool    `yaml:"grayscale"`
	Contrast          float64 `yaml:"contrast"` // percent, 0 disables
	Denoise           float64 `yaml:"denoise"`  // blur sigma, 0 disables
	Sharpen           float64 `yaml:"sharpen"`  // sigma, 0 disables
	Deskew            bool    `yaml:"deskew"`
	DeskewAngleLimit  float64 `yaml:"deskew_angle_limit"`
	Binarize          bool    `yaml:"binarize"`
	AdaptiveBlockSize int     `yaml:"adaptive_block_size"`
	AdaptiveConstant  float64 `yaml:"adaptive_constant"`
}

// DefaultPreprocessConfig is a light cleanup suitable for rendered PDF pages.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		Grayscale:         true,
		Contrast:          20,
		Sharpen:           0.5,
		DeskewAngleLimit:  5,
		AdaptiveBlockSize: 15,
		AdaptiveConstant:  8,
	}
}

// Pipeline applies preprocessors in order.
type Pipeline []Preprocessor

// NewPipeline builds the pipeline for cfg. Deskew runs first so later
// filters see straightened text.
func NewPipeline(cfg PreprocessConfig) Pipeline {
	var p Pipeline
	if cfg.Deskew {
		p = append(p, NewDeskewProcessor(cfg.DeskewAngleLimit))
	}
	if cfg.Grayscale {
		p = append(p, NewGrayscaleProcessor())
	}
	if cfg.Denoise > 0 {
		p = append(p, NewDenoiseProcessor(cfg.Denoise))
	}
	if cfg.Contrast != 0 {
		p = append(p, NewContrastProcessor(cfg.Contrast))
	}
	if cfg.Sharpen > 0 {
		p = append(p, NewSharpenProcessor(cfg.Sharpen))
	}
	if cfg.Binarize {
		p = append(p, NewAdaptiveThresholdProcessor(cfg.AdaptiveBlockSize, cfg.AdaptiveConstant))
	}
	return p
}

// Apply runs every stage; an empty pipeline returns img unchanged.
func (p Pipeline) Apply(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	var err error
	result := img
	for _, stage := range p {
		result, err = stage.Process(result)
		if err != nil {
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if result == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}
	return result, nil
}

// Prepare decodes data, runs the pipeline and re-encodes as PNG. An empty
// pipeline returns data untouched.
func (p Pipeline) Prepare(data []byte) ([]byte, image.Rectangle, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("failed to decode image: %w", err)
	}
	if len(p) == 0 {
		return data, img.Bounds(), nil
	}
	out, err := p.Apply(img)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), out.Bounds(), nil
}

// 灰度处理器
type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// 对比度处理器
type ContrastProcessor struct {
	amount float64
}

func NewContrastProcessor(amount float64) *ContrastProcessor {
	return &ContrastProcessor{amount: amount}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.amount), nil
}

// 降噪处理器
type DenoiseProcessor struct {
	strength float64
}

func NewDenoiseProcessor(strength float64) *DenoiseProcessor {
	return &DenoiseProcessor{strength: strength}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Blur(img, p.strength), nil
}

// 锐化处理器
type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.strength), nil
}

// 倾斜校正处理器
type DeskewProcessor struct {
	angleLimit float64
	step       float64
}

func NewDeskewProcessor(angleLimit float64) *DeskewProcessor {
	if angleLimit <= 0 {
		angleLimit = 5
	}
	return &DeskewProcessor{angleLimit: angleLimit, step: 0.5}
}

func (p *DeskewProcessor) Process(img image.Image) (image.Image, error) {
	angle := p.detectSkewAngle(img)
	if angle == 0 {
		return img, nil
	}
	return imaging.Rotate(img, angle, color.White), nil
}

const deskewSampleWidth = 600

// detectSkewAngle returns the counter-clockwise rotation that makes text rows
// horizontal, found by maximizing the variance of the horizontal ink profile.
func (p *DeskewProcessor) detectSkewAngle(img image.Image) float64 {
	sample := imaging.Grayscale(img)
	if sample.Bounds().Dx() > deskewSampleWidth {
		sample = imaging.Resize(sample, deskewSampleWidth, 0, imaging.Box)
	}

	best, bestScore := 0.0, projectionScore(sample)
	for a := -p.angleLimit; a <= p.angleLimit+1e-9; a += p.step {
		if math.Abs(a) < 1e-9 {
			continue
		}
		score := projectionScore(imaging.Rotate(sample, a, color.White))
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	return best
}

func projectionScore(img *image.NRGBA) float64 {
	b := img.Bounds()
	prev := -1
	var score float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		ink := 0
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			if row[x*4] < 128 {
				ink++
			}
		}
		if prev >= 0 {
			d := float64(ink - prev)
			score += d * d
		}
		prev = ink
	}
	return score
}

// 自适应阈值处理器
type AdaptiveThresholdProcessor struct {
	blockSize int
	constant  float64
}

func NewAdaptiveThresholdProcessor(blockSize int, constant float64) *AdaptiveThresholdProcessor {
	if blockSize < 3 {
		blockSize = 15
	}
	return &AdaptiveThresholdProcessor{
		blockSize: blockSize,
		constant:  constant,
	}
}

// Process binarizes against the local mean using an integral image.
func (p *AdaptiveThresholdProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	gray := imaging.Grayscale(img)
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()

	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(gray.Pix[y*gray.Stride+x*4])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
		}
	}

	result := image.NewGray(image.Rect(0, 0, w, h))
	half := p.blockSize / 2
	for y := 0; y < h; y++ {
		y0, y1 := clamp(y-half, 0, h-1), clamp(y+half, 0, h-1)
		for x := 0; x < w; x++ {
			x0, x1 := clamp(x-half, 0, w-1), clamp(x+half, 0, w-1)
			count := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			sum := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
				integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
			mean := float64(sum) / float64(count)
			if float64(gray.Pix[y*gray.Stride+x*4]) < mean-p.constant {
				result.Pix[y*result.Stride+x] = 0
			} else {
				result.Pix[y*result.Stride+x] = 255
			}
		}
	}
	return result, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
