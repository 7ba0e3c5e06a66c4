package models

import (
	"fmt"
	"strings"
)

// Method records how a page's text was obtained.
type Method string

const (
	MethodEmbedded Method = "embedded"
	MethodOCR      Method = "ocr"
	MethodOCREmpty Method = "ocr_empty"
	MethodError    Method = "error"
)

// Contributes reports whether a page with this method adds text to the document.
func (m Method) Contributes() bool {
	return m == MethodEmbedded || m == MethodOCR
}

// PageOutcome is the result of the extraction decision for one page.
type PageOutcome struct {
	Page   int    `json:"page"` // 1-based
	Method Method `json:"method"`
	Text   string `json:"-"`
	Error  string `json:"error,omitempty"`
}

// DocumentFailure is set when the document could not be opened at all.
type DocumentFailure struct {
	Message string `json:"message"`
	Trace   string `json:"trace"`
}

// Document is the fully materialized extraction result for one PDF.
type Document struct {
	Path      string           `json:"path"`
	RelPath   string           `json:"relPath"`
	PageCount int              `json:"pageCount"`
	Pages     []PageOutcome    `json:"pages"`
	FullText  string           `json:"-"`
	Failure   *DocumentFailure `json:"failure,omitempty"`

	// ExportErrors counts pages whose structured export failed.
	ExportErrors int `json:"exportErrors,omitempty"`
}

// Failed reports whether the document failed at the document level.
func (d *Document) Failed() bool {
	return d.Failure != nil
}

// MethodCounts tallies page outcomes by method.
func (d *Document) MethodCounts() map[Method]int {
	counts := make(map[Method]int, 4)
	for _, p := range d.Pages {
		counts[p.Method]++
	}
	return counts
}

// Status of a document within a batch run.
type Status string

const (
	StatusOK      Status = "OK"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
)

// SummaryEntry is one line of the run summary.
type SummaryEntry struct {
	Status  Status `json:"status"`
	RelPath string `json:"relPath"`
	Pages   int    `json:"pages,omitempty"`
}

func (e SummaryEntry) String() string {
	if e.Status == StatusOK {
		return fmt.Sprintf("%s: %s (%d pages)", e.Status, e.RelPath, e.Pages)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.RelPath)
}

// Summary is the ordered list of entries for a run.
type Summary []SummaryEntry

// NoDocuments is the summary text for a run that found nothing.
const NoDocuments = "No PDF files found"

func (s Summary) String() string {
	if len(s) == 0 {
		return NoDocuments
	}
	lines := make([]string, len(s))
	for i, e := range s {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// Count returns the number of entries with the given status.
func (s Summary) Count(status Status) int {
	n := 0
	for _, e := range s {
		if e.Status == status {
			n++
		}
	}
	return n
}
