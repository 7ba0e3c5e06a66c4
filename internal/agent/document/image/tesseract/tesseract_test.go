package tesseract

import (
	"image"
	"testing"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/pdf-batch-ocr/internal/agent/document"
)

func word(text string, block, para, line int, r image.Rectangle) gosseract.BoundingBox {
	return gosseract.BoundingBox{Box: r, Word: text, Confidence: 90, BlockNum: block, ParNum: para, LineNum: line}
}

func TestLinesFromBoxes(t *testing.T) {
	boxes := []gosseract.BoundingBox{
		{Word: "First line\n", Confidence: 91, Box: image.Rect(0, 0, 100, 10)},
		{Word: "  \n", Confidence: 95},
		{Word: "faint", Confidence: 20},
		{Word: "Second", Confidence: 80, Box: image.Rect(0, 12, 60, 22)},
	}
	lines := linesFromBoxes(boxes, 50)
	if len(lines) != 2 || lines[0].Text != "First line" || lines[1].Text != "Second" {
		t.Fatalf("unexpected lines %+v", lines)
	}
	if lines[1].Box != (document.Box{X0: 0, Y0: 12, X1: 60, Y1: 22}) {
		t.Fatalf("unexpected box %+v", lines[1].Box)
	}
}

func TestBuildRegions(t *testing.T) {
	words := []gosseract.BoundingBox{
		word("Quarterly", 1, 1, 1, image.Rect(10, 10, 110, 40)),
		word("Report", 1, 1, 1, image.Rect(120, 10, 200, 40)),
		word("Revenue", 2, 1, 1, image.Rect(10, 60, 80, 76)),
		word("grew.", 2, 1, 1, image.Rect(85, 60, 130, 76)),
		word("Costs", 2, 1, 2, image.Rect(10, 80, 60, 96)),
		word("fell.", 2, 1, 2, image.Rect(65, 80, 100, 96)),
		word("1.", 3, 1, 1, image.Rect(10, 120, 20, 136)),
		word("alpha", 3, 1, 1, image.Rect(25, 120, 70, 136)),
		word("2.", 3, 1, 2, image.Rect(10, 140, 20, 156)),
		word("beta", 3, 1, 2, image.Rect(25, 140, 70, 156)),
	}
	blocks := []gosseract.BoundingBox{
		{Word: "", Box: image.Rect(10, 100, 300, 115)},
		{Word: "Quarterly Report", Box: image.Rect(10, 10, 200, 40)},
	}

	regions := buildRegions(words, blocks, 0)
	wantKinds := []string{document.KindTitle, document.KindText, document.KindFigure, document.KindList}
	if len(regions) != len(wantKinds) {
		t.Fatalf("got %d regions: %+v", len(regions), regions)
	}
	for i, k := range wantKinds {
		if regions[i].Kind != k {
			t.Errorf("region %d kind = %s, want %s", i, regions[i].Kind, k)
		}
	}
	if regions[1].Text != "Revenue grew.\nCosts fell." {
		t.Errorf("paragraph text = %q", regions[1].Text)
	}
	if regions[0].Box != (document.Box{X0: 10, Y0: 10, X1: 200, Y1: 40}) {
		t.Errorf("title box = %+v", regions[0].Box)
	}
}

func TestIsListItem(t *testing.T) {
	for line, want := range map[string]bool{
		"• bullet":    true,
		"- dash":      true,
		"12) twelve":  true,
		"3. three":    true,
		"3.5 percent": false,
		"plain text":  false,
		"-nospace":    false,
	} {
		if got := isListItem(line); got != want {
			t.Errorf("isListItem(%q) = %v", line, got)
		}
	}
}
