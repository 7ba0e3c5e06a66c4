package image

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"

	"github.com/disintegration/imaging"
)

func striped(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	for y := 30; y < h-30; y += 20 {
		draw.Draw(img, image.Rect(30, y, w-30, y+4), &image.Uniform{color.Black}, image.Point{}, draw.Src)
	}
	return img
}

func TestDeskewDetectsRotation(t *testing.T) {
	p := NewDeskewProcessor(5)
	if got := p.detectSkewAngle(striped(400, 300)); got != 0 {
		t.Fatalf("straight image angle = %v, want 0", got)
	}
	skewed := imaging.Rotate(striped(400, 300), 3, color.White)
	if got := p.detectSkewAngle(skewed); math.Abs(got+3) > 0.5 {
		t.Fatalf("skewed image angle = %v, want about -3", got)
	}
}

func TestAdaptiveThreshold(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 20, 40, 22), &image.Uniform{color.Black}, image.Point{}, draw.Src)

	out, err := NewAdaptiveThresholdProcessor(15, 8).Process(img)
	if err != nil {
		t.Fatal(err)
	}
	gray := out.(*image.Gray)
	if gray.GrayAt(10, 21).Y != 0 {
		t.Fatalf("line pixel not black")
	}
	if gray.GrayAt(10, 5).Y != 255 {
		t.Fatalf("background pixel not white")
	}
}

func TestPipelinePrepare(t *testing.T) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, striped(100, 80), imaging.PNG); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()

	out, bounds, err := Pipeline(nil).Prepare(data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) || bounds.Dx() != 100 || bounds.Dy() != 80 {
		t.Fatalf("empty pipeline changed the image")
	}

	out, _, err = NewPipeline(DefaultPreprocessConfig()).Prepare(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := imaging.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("prepared image is not decodable: %v", err)
	}

	if _, _, err := NewPipeline(DefaultPreprocessConfig()).Prepare([]byte("nope")); err == nil {
		t.Fatal("expected decode error")
	}
}
