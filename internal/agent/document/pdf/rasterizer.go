package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultPdftoppm = "pdftoppm"

// Rasterizer renders single PDF pages to PNG with poppler's pdftoppm.
type Rasterizer struct {
	binPath string
}

// NewRasterizer creates a Rasterizer. If binPath is empty, "pdftoppm" is used.
func NewRasterizer(binPath string) *Rasterizer {
	if binPath == "" {
		binPath = defaultPdftoppm
	}
	return &Rasterizer{binPath: binPath}
}

// DPI converts a render scale to pdftoppm resolution (scale 1 = 72 dpi).
func DPI(scale float64) int {
	return int(math.Round(72 * scale))
}

// Render writes page number of pdfPath into dir and returns the image path.
// On failure no file is left behind.
func (r *Rasterizer) Render(ctx context.Context, pdfPath string, number int, scale float64, dir string) (string, error) {
	if scale <= 0 {
		return "", fmt.Errorf("invalid render scale %v", scale)
	}
	prefix := filepath.Join(dir, fmt.Sprintf("page-%04d-%s", number, uuid.NewString()[:8]))
	out := prefix + ".png"
	page := strconv.Itoa(number)

	cmd := exec.CommandContext(ctx, r.binPath,
		"-f", page, "-l", page,
		"-r", strconv.Itoa(DPI(scale)),
		"-png", "-singlefile",
		pdfPath, prefix,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		removeQuiet(out)
		return "", fmt.Errorf("pdftoppm failed for page %d: %w: %s", number, err, strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("pdftoppm produced no image for page %d: %w", number, err)
	}
	return out, nil
}

// fileRaster owns a rendered image on disk.
type fileRaster struct {
	path string
	once sync.Once
	err  error
}

func newFileRaster(path string) *fileRaster {
	return &fileRaster{path: path}
}

func (f *fileRaster) Path() string { return f.path }

func (f *fileRaster) Bytes() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f *fileRaster) Close() error {
	f.once.Do(func() {
		f.err = removeQuiet(f.path)
	})
	return f.err
}

func removeQuiet(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
