// internal/utils/validator/document.go
package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
)

// ErrInvalidDocument wraps every failed pre-flight check.
var ErrInvalidDocument = errors.New("invalid document")

const pdfMimeType = "application/pdf"

var disableConfigDir sync.Once

// DocumentValidator 文档验证器
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize     int64 // 0 means unlimited
	MaxPageCount    int   // 0 means unlimited, only checked with StructuralCheck
	StructuralCheck bool  // run pdfcpu relaxed validation
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
	PageCount int    `json:"pageCount,omitempty"`
}

// Err folds the validation errors into a single error, or nil when valid.
func (r *ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Code + ": " + e.Message
	}
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
}

// DefaultValidatorConfig returns a config with only the cheap checks enabled.
func DefaultValidatorConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxFileSize: 512 * 1024 * 1024,
	}
}

// NewDocumentValidator 创建新的文档验证器
func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = DefaultValidatorConfig()
	}
	if config.StructuralCheck {
		disableConfigDir.Do(api.DisableConfigDir)
	}
	return &DocumentValidator{
		logger: log,
		config: config,
	}
}

// ValidateFile runs the pre-flight checks on a PDF on disk. The returned error
// is reserved for I/O failures; failed checks are reported in the result.
func (v *DocumentValidator) ValidateFile(path string) (*ValidationResult, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  filepath.Base(path),
			Size:      st.Size(),
			Extension: strings.ToLower(filepath.Ext(path)),
		},
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	mimeType, err := v.detectMimeType(f)
	if err != nil {
		return nil, fmt.Errorf("failed to detect mime type: %w", err)
	}
	result.FileInfo.MimeType = mimeType

	hash, err := v.calculateHash(f)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}
	result.FileInfo.Hash = hash

	result.add(v.performBasicValidation(result.FileInfo)...)

	// 结构验证只在基本验证通过后进行
	if result.IsValid && v.config.StructuralCheck {
		result.add(v.validatePDF(path, &result.FileInfo)...)
	}

	if !result.IsValid {
		v.logger.Warn("document failed validation",
			logger.String("path", path),
			logger.Any("errors", result.Errors))
	}
	return result, nil
}

func (r *ValidationResult) add(errs ...ValidationError) {
	if len(errs) == 0 {
		return
	}
	r.IsValid = false
	r.Errors = append(r.Errors, errs...)
}

// 基本验证
func (v *DocumentValidator) performBasicValidation(fileInfo FileInfo) []ValidationError {
	var errs []ValidationError

	if v.config.MaxFileSize > 0 && fileInfo.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}

	if fileInfo.MimeType != pdfMimeType {
		errs = append(errs, ValidationError{
			Code:    "INVALID_MIME_TYPE",
			Message: fmt.Sprintf("Invalid MIME type %s for extension %s", fileInfo.MimeType, fileInfo.Extension),
			Field:   "mimeType",
		})
	}

	return errs
}

// PDF特定验证
func (v *DocumentValidator) validatePDF(path string, fileInfo *FileInfo) []ValidationError {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return []ValidationError{{
			Code:    "INVALID_PDF",
			Message: err.Error(),
		}}
	}

	pages, err := api.PageCountFile(path)
	if err != nil {
		return []ValidationError{{
			Code:    "INVALID_PDF",
			Message: fmt.Sprintf("failed to count pages: %v", err),
		}}
	}
	fileInfo.PageCount = pages

	if v.config.MaxPageCount > 0 && pages > v.config.MaxPageCount {
		return []ValidationError{{
			Code:    "TOO_MANY_PAGES",
			Message: fmt.Sprintf("Page count %d exceeds maximum of %d", pages, v.config.MaxPageCount),
			Field:   "pageCount",
		}}
	}
	return nil
}

// 检测MIME类型
func (v *DocumentValidator) detectMimeType(file io.ReadSeeker) (string, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	return http.DetectContentType(buffer[:n]), nil
}

// 计算文件哈希
func (v *DocumentValidator) calculateHash(file io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
