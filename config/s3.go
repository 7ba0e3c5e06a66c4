package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

var (
	s3Once   sync.Once
	s3Config *S3Config
	s3Err    error
)

// S3Config is the publish target for storage.publish: s3.
type S3Config struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	// PathStyle addresses the bucket in the path. It defaults to true when a
	// custom Endpoint is set.
	PathStyle bool
}

// GetS3Config loads the S3 settings once per process.
func GetS3Config() (*S3Config, error) {
	s3Once.Do(func() {
		loadDotEnv()
		s3Config, s3Err = LoadS3Config()
	})
	return s3Config, s3Err
}

// LoadS3Config reads AWS_* variables, then BATCHOCR_S3_* overrides, and
// validates the result.
func LoadS3Config() (*S3Config, error) {
	c := &S3Config{
		BucketName: os.Getenv("AWS_S3_BUCKET_NAME"),
		Region:     os.Getenv("AWS_REGION"),
		Endpoint:   os.Getenv("AWS_ENDPOINT"),
		AccessKey:  os.Getenv("AWS_ACCESS_KEY"),
		SecretKey:  os.Getenv("AWS_SECRET_KEY"),
	}
	p := EnvPrefix + "S3_"
	envString(p+"BUCKET", &c.BucketName)
	envString(p+"REGION", &c.Region)
	envString(p+"ENDPOINT", &c.Endpoint)
	envString(p+"ACCESS_KEY", &c.AccessKey)
	envString(p+"SECRET_KEY", &c.SecretKey)
	c.PathStyle = c.Endpoint != ""
	if err := envBool(p+"PATH_STYLE", &c.PathStyle); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *S3Config) Validate() error {
	var errs []error
	if c.BucketName == "" {
		errs = append(errs, fmt.Errorf("%w: s3 bucket is not set (AWS_S3_BUCKET_NAME or %sS3_BUCKET)", ErrInvalidConfig, EnvPrefix))
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		errs = append(errs, fmt.Errorf("%w: s3 access key and secret key must be set together", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}
