package validator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateFile(t *testing.T) {
	pdfLike := "%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"

	tests := []struct {
		name     string
		filename string
		content  string
		config   *ValidatorConfig
		wantOK   bool
		wantCode string
	}{
		{"pdf header", "a.pdf", pdfLike, nil, true, ""},
		{"upper case extension", "B.PDF", pdfLike, nil, true, ""},
		{"not a pdf", "c.pdf", "hello, plain text", nil, false, "INVALID_MIME_TYPE"},
		{"too large", "d.pdf", pdfLike, &ValidatorConfig{MaxFileSize: 8}, false, "FILE_TOO_LARGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewDocumentValidator(logger.NewTestLogger(), tt.config)
			res, err := v.ValidateFile(writeFile(t, tt.filename, tt.content))
			if err != nil {
				t.Fatalf("ValidateFile() error = %v", err)
			}
			if res.IsValid != tt.wantOK {
				t.Fatalf("IsValid = %v, errors = %+v", res.IsValid, res.Errors)
			}
			if tt.wantOK {
				if res.Err() != nil {
					t.Fatalf("Err() = %v on valid result", res.Err())
				}
				if len(res.FileInfo.Hash) != 64 {
					t.Fatalf("unexpected hash %q", res.FileInfo.Hash)
				}
				return
			}
			if !errors.Is(res.Err(), ErrInvalidDocument) {
				t.Fatalf("Err() = %v, want ErrInvalidDocument", res.Err())
			}
			if !strings.Contains(res.Err().Error(), tt.wantCode) {
				t.Fatalf("Err() = %v, want code %s", res.Err(), tt.wantCode)
			}
		})
	}
}

func TestValidateFileMissing(t *testing.T) {
	v := NewDocumentValidator(logger.NewTestLogger(), nil)
	if _, err := v.ValidateFile(filepath.Join(t.TempDir(), "nope.pdf")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
