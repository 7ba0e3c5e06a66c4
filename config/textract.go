package config

import (
	"fmt"
	"os"
	"sync"
)

var (
	textractOnce   sync.Once
	textractConfig *TextractConfig
	textractErr    error
)

type TextractConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

func GetTextractConfig() (*TextractConfig, error) {
	textractOnce.Do(func() {
		loadDotEnv()
		textractConfig, textractErr = LoadTextractConfig()
	})
	return textractConfig, textractErr
}

// LoadTextractConfig reads AWS_* and TEXTRACT_MIN_CONFIDENCE, then
// BATCHOCR_TEXTRACT_* overrides, and validates the result.
func LoadTextractConfig() (*TextractConfig, error) {
	c := &TextractConfig{
		Region:    os.Getenv("AWS_REGION"),
		Endpoint:  os.Getenv("AWS_ENDPOINT"),
		AccessKey: os.Getenv("AWS_ACCESS_KEY"),
		SecretKey: os.Getenv("AWS_SECRET_KEY"),
	}
	minConf := 80.0
	if err := envFloat("TEXTRACT_MIN_CONFIDENCE", &minConf); err != nil {
		return nil, err
	}

	p := EnvPrefix + "TEXTRACT_"
	envString(p+"REGION", &c.Region)
	envString(p+"ENDPOINT", &c.Endpoint)
	envString(p+"ACCESS_KEY", &c.AccessKey)
	envString(p+"SECRET_KEY", &c.SecretKey)
	if err := envFloat(p+"MIN_CONFIDENCE", &minConf); err != nil {
		return nil, err
	}
	c.MinConfidence = float32(minConf)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *TextractConfig) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("%w: textract min confidence must be within [0,100], got %g", ErrInvalidConfig, c.MinConfidence)
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("%w: textract access key and secret key must be set together", ErrInvalidConfig)
	}
	return nil
}
