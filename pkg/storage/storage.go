package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/feichai0017/pdf-batch-ocr/pkg/logger"
	"github.com/feichai0017/pdf-batch-ocr/pkg/storage/minio"
	"github.com/feichai0017/pdf-batch-ocr/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage 接口定义
type Storage interface {
	// Store 存储对象, size may be -1 when unknown
	Store(ctx context.Context, reader io.Reader, key string, size int64, contentType string) (string, error)
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(ctx context.Context, storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// Publish uploads every regular file under root to <prefix>/<base(root)>/<rel>
// and returns how many objects were written. It stops at the first failure.
func Publish(ctx context.Context, store Storage, root, prefix string, log logger.Logger) (int, error) {
	base := filepath.Base(root)
	count := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, base, filepath.ToSlash(rel))

		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}

		contentType := mime.TypeByExtension(filepath.Ext(p))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if _, err := store.Store(ctx, f, key, info.Size(), contentType); err != nil {
			return err
		}
		count++
		log.Debug("Published object", logger.String("key", key))
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to publish %s: %w", root, err)
	}

	log.Info("Published output tree",
		logger.String("root", root),
		logger.String("prefix", prefix),
		logger.Int("objects", count),
	)
	return count, nil
}
