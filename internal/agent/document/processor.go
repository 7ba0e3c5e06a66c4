package document

import (
	"context"
	"errors"
)

// ErrOpen marks a document that could not be parsed or opened at all.
var ErrOpen = errors.New("document could not be opened")

// Opener 打开PDF文档，按页访问
type Opener interface {
	Open(ctx context.Context, path string) (Document, error)
}

// Document is an opened PDF. Pages are numbered from 1.
// Implementations are not safe for concurrent use.
type Document interface {
	NumPages() int
	Page(number int) Page
	// Close releases parser state and any temporary files.
	Close() error
}

// Page exposes embedded text extraction and rasterization.
type Page interface {
	Number() int
	EmbeddedText() (string, error)
	Render(ctx context.Context, scale float64) (Raster, error)
}

// Raster is a rendered page image on disk. Close deletes it and may be
// called more than once.
type Raster interface {
	Path() string
	Bytes() ([]byte, error)
	Close() error
}

// Line is one text line returned by a recognizer, in reading order.
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"bbox"`
}

// Recognizer 识别引擎: image bytes in, zero or more lines out.
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) ([]Line, error)
}

// Analyzer 版面分析引擎: image bytes in, zero or more layout results out.
type Analyzer interface {
	Analyze(ctx context.Context, img []byte) ([]Layout, error)
}
