package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	minioOnce   sync.Once
	minioConfig *MinioConfig
	minioErr    error
)

// MinioConfig is the publish target for storage.publish: minio.
type MinioConfig struct {
	AccessKey  string
	SecretKey  string
	Endpoint   string
	UseSSL     bool
	Region     string
	BucketName string
}

// GetMinioConfig loads the MinIO settings once per process.
func GetMinioConfig() (*MinioConfig, error) {
	minioOnce.Do(func() {
		loadDotEnv()
		minioConfig, minioErr = LoadMinioConfig()
	})
	return minioConfig, minioErr
}

// LoadMinioConfig reads MINIO_* variables, then BATCHOCR_MINIO_* overrides,
// and validates the result.
func LoadMinioConfig() (*MinioConfig, error) {
	c := &MinioConfig{
		AccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		Endpoint:   os.Getenv("MINIO_ENDPOINT"),
		Region:     os.Getenv("MINIO_REGION"),
		BucketName: os.Getenv("MINIO_BUCKET_NAME"),
	}
	if err := envBool("MINIO_USE_SSL", &c.UseSSL); err != nil {
		return nil, err
	}

	p := EnvPrefix + "MINIO_"
	envString(p+"ACCESS_KEY", &c.AccessKey)
	envString(p+"SECRET_KEY", &c.SecretKey)
	envString(p+"ENDPOINT", &c.Endpoint)
	envString(p+"REGION", &c.Region)
	envString(p+"BUCKET", &c.BucketName)
	if err := envBool(p+"USE_SSL", &c.UseSSL); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *MinioConfig) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, fmt.Errorf("%w: minio endpoint is not set (MINIO_ENDPOINT or %sMINIO_ENDPOINT)", ErrInvalidConfig, EnvPrefix))
	}
	if c.BucketName == "" {
		errs = append(errs, fmt.Errorf("%w: minio bucket is not set (MINIO_BUCKET_NAME or %sMINIO_BUCKET)", ErrInvalidConfig, EnvPrefix))
	}
	return errors.Join(errs...)
}
