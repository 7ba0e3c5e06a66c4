package document

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

func TestLayoutMarkdown(t *testing.T) {
	l := &Layout{
		Engine: "test",
		Regions: []Region{
			{Kind: KindTitle, Text: "Annual\n Report"},
			{Kind: KindText, Text: "Body text.  "},
			{Kind: KindTable, Rows: [][]string{{"a", "b|c"}, {"1"}}},
			{Kind: KindKeyValue, Key: "Total", Text: "42"},
			{Kind: KindList, Text: "one\n\ntwo"},
			{Kind: KindFigure, Box: Box{1, 2, 3, 4}},
		},
	}
	want := "# Annual Report\n\n" +
		"Body text.\n\n" +
		"| a | b\\|c |\n| --- | --- |\n| 1 |  |\n\n" +
		"**Total**: 42\n\n" +
		"- one\n- two\n\n" +
		"![figure](#bbox=1,2,3,4)\n"
	if got := l.Markdown(); got != want {
		t.Fatalf("Markdown() =\n%q\nwant\n%q", got, want)
	}
}

func TestLayoutJSON(t *testing.T) {
	l := &Layout{Engine: "tesseract", Regions: []Region{{Kind: KindText, Text: "hi", Box: Box{0, 0, 10, 5}}}}
	data, err := l.JSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	regions := decoded["regions"].([]any)
	first := regions[0].(map[string]any)
	if first["type"] != "text" || first["bbox"].(map[string]any)["x1"].(float64) != 10 {
		t.Fatalf("unexpected json: %s", data)
	}
}

func TestLayoutMarkdownRendersAsGFM(t *testing.T) {
	l := &Layout{
		Regions: []Region{
			{Kind: KindTitle, Text: "Annual Report"},
			{Kind: KindTable, Rows: [][]string{{"a", "b|c"}, {"1", "2"}}},
			{Kind: KindKeyValue, Key: "Total", Text: "42"},
			{Kind: KindList, Text: "one\ntwo"},
		},
	}
	var buf bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(l.Markdown()), &buf); err != nil {
		t.Fatal(err)
	}
	html := buf.String()
	for _, want := range []string{
		"<h1>Annual Report</h1>",
		"<table>",
		"<th>b|c</th>",
		"<td>2</td>",
		"<strong>Total</strong>: 42",
		"<li>two</li>",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered html missing %q:\n%s", want, html)
		}
	}
}
