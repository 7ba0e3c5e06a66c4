package document

import (
	"encoding/json"
	"fmt"
	"image"
	"strings"
)

// Region kinds produced by the layout analyzers.
const (
	KindTitle    = "title"
	KindText     = "text"
	KindList     = "list"
	KindTable    = "table"
	KindFigure   = "figure"
	KindKeyValue = "key_value"
	KindHeader   = "header"
	KindFooter   = "footer"
)

// Box is an axis-aligned pixel rectangle.
type Box struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

func BoxFromRect(r image.Rectangle) Box {
	return Box{X0: r.Min.X, Y0: r.Min.Y, X1: r.Max.X, Y1: r.Max.Y}
}

// Region is one block of a page layout.
type Region struct {
	Kind       string     `json:"type"`
	Box        Box        `json:"bbox"`
	Text       string     `json:"text,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Key        string     `json:"key,omitempty"`
	Rows       [][]string `json:"rows,omitempty"`
}

// Layout is a single structural result for a page image.
type Layout struct {
	Engine      string   `json:"engine"`
	Width       int      `json:"width,omitempty"`
	Height      int      `json:"height,omitempty"`
	Orientation int      `json:"orientation,omitempty"` // degrees, clockwise
	Regions     []Region `json:"regions"`
}

// JSON renders the layout as indented JSON.
func (l *Layout) JSON() ([]byte, error) {
	return json.MarshalIndent(l, "", "  ")
}

// Markdown renders the regions in order.
func (l *Layout) Markdown() string {
	var b strings.Builder
	for _, r := range l.Regions {
		switch r.Kind {
		case KindTitle:
			fmt.Fprintf(&b, "# %s\n\n", oneLine(r.Text))
		case KindList:
			for _, item := range strings.Split(r.Text, "\n") {
				if item = strings.TrimSpace(item); item != "" {
					fmt.Fprintf(&b, "- %s\n", item)
				}
			}
			b.WriteString("\n")
		case KindTable:
			writeTable(&b, r)
		case KindFigure:
			fmt.Fprintf(&b, "![figure](#bbox=%d,%d,%d,%d)\n\n", r.Box.X0, r.Box.Y0, r.Box.X1, r.Box.Y1)
			if r.Text != "" {
				fmt.Fprintf(&b, "%s\n\n", r.Text)
			}
		case KindKeyValue:
			fmt.Fprintf(&b, "**%s**: %s\n\n", oneLine(r.Key), oneLine(r.Text))
		default:
			if t := strings.TrimSpace(r.Text); t != "" {
				fmt.Fprintf(&b, "%s\n\n", t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeTable(b *strings.Builder, r Region) {
	if len(r.Rows) == 0 {
		if t := strings.TrimSpace(r.Text); t != "" {
			fmt.Fprintf(b, "%s\n\n", t)
		}
		return
	}
	cols := 0
	for _, row := range r.Rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	for i, row := range r.Rows {
		cells := make([]string, cols)
		for j := range cells {
			if j < len(row) {
				cells[j] = strings.ReplaceAll(oneLine(row[j]), "|", `\|`)
			}
		}
		fmt.Fprintf(b, "| %s |\n", strings.Join(cells, " | "))
		if i == 0 {
			fmt.Fprintf(b, "|%s\n", strings.Repeat(" --- |", cols))
		}
	}
	b.WriteString("\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
