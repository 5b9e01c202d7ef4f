package config

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"scanocr/internal/imaging"
	"scanocr/internal/logger"
	"scanocr/internal/ocr"
	"scanocr/internal/pipeline"
	"scanocr/internal/textnorm"
)

// Fallback engine choices for FALLBACK_ENGINE.
const (
	FallbackDocumentAI = ocr.EngineDocumentAI
	FallbackVision     = ocr.EngineVision
	FallbackNone       = "none"
)

type Config struct {
	// Pipeline Configuration
	Workers         int
	DocumentTimeout time.Duration
	ConfidenceFloor float64
	PlanFile        string
	NeuralPass      bool
	FallbackEngine  string
	TextSkipRules   string
	PreprocessCrop  string

	// Tesseract Configuration
	TessdataPrefix     string
	TessdataBestPrefix string

	// OpenAI Configuration
	OpenAIAPIKey string
	OpenAIModel  string

	// Google Cloud Configuration
	GoogleCloudProject           string
	GoogleCloudLocation          string
	DocumentAIProcessorID        string
	DocumentAIProcessorVersion   string
	GoogleCredentialsJSON        string
	GoogleApplicationCredentials string

	// Google Sheets Configuration
	ReviewSheetURL  string
	ReviewSheetName string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		PlanFile:                     getEnv("OCR_PLAN_FILE", ""),
		FallbackEngine:               strings.ToLower(getEnv("FALLBACK_ENGINE", FallbackDocumentAI)),
		TextSkipRules:                getEnv("TEXT_SKIP_RULES", ""),
		PreprocessCrop:               getEnv("PREPROCESS_CROP", ""),
		TessdataPrefix:               getEnv("TESSDATA_PREFIX", ""),
		TessdataBestPrefix:           getEnv("TESSDATA_BEST_PREFIX", ""),
		OpenAIAPIKey:                 getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:                  getEnv("OPENAI_MODEL", ocr.DefaultOpenAIModel),
		GoogleCloudProject:           getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:          getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID:        getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocumentAIProcessorVersion:   getEnv("DOCUMENT_AI_PROCESSOR_VERSION", ""),
		GoogleCredentialsJSON:        getEnv("GOOGLE_CREDENTIALS", ""),
		GoogleApplicationCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		ReviewSheetURL:               getEnv("REVIEW_SHEET_URL", ""),
		ReviewSheetName:              getEnv("REVIEW_SHEET_NAME", "OCR Review"),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
		LogFormat:                    getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:                getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:                    getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if config.Workers, err = getEnvInt("OCR_WORKERS", runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if config.DocumentTimeout, err = getEnvDuration("OCR_DOCUMENT_TIMEOUT", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if config.ConfidenceFloor, err = getEnvFloat("OCR_CONFIDENCE_FLOOR", pipeline.DefaultFloor); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if config.NeuralPass, err = getEnvBool("NEURAL_PASS", false); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("OCR_WORKERS must be at least 1")
	}
	if c.DocumentTimeout < 0 {
		return fmt.Errorf("OCR_DOCUMENT_TIMEOUT must not be negative")
	}
	if math.IsNaN(c.ConfidenceFloor) || c.ConfidenceFloor < 0 || c.ConfidenceFloor > 100 {
		return fmt.Errorf("OCR_CONFIDENCE_FLOOR must be within [0, 100]")
	}
	switch c.FallbackEngine {
	case FallbackDocumentAI, FallbackVision, FallbackNone:
	default:
		return fmt.Errorf("FALLBACK_ENGINE must be documentai, vision or none")
	}
	if c.NeuralPass && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when NEURAL_PASS is enabled")
	}
	if _, err := c.TextOptions(); err != nil {
		return fmt.Errorf("TEXT_SKIP_RULES: %w", err)
	}
	if _, err := c.Margins(); err != nil {
		return fmt.Errorf("PREPROCESS_CROP: %w", err)
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// GoogleCredentials returns the credentials shared by the Google engines.
func (c *Config) GoogleCredentials() ocr.GoogleCredentials {
	return ocr.GoogleCredentials{JSON: c.GoogleCredentialsJSON, File: c.GoogleApplicationCredentials}
}

// ServiceAccountJSON returns the raw service account key for clients that
// need it directly, such as the review sheet exporter.
func (c *Config) ServiceAccountJSON() ([]byte, error) {
	if c.GoogleCredentialsJSON != "" {
		return []byte(c.GoogleCredentialsJSON), nil
	}
	if c.GoogleApplicationCredentials != "" {
		data, err := os.ReadFile(c.GoogleApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return data, nil
	}
	return nil, nil
}

// DocumentAI returns the fallback processor settings.
func (c *Config) DocumentAI() ocr.DocumentAIConfig {
	return ocr.DocumentAIConfig{
		ProjectID:        c.GoogleCloudProject,
		Location:         c.GoogleCloudLocation,
		ProcessorID:      c.DocumentAIProcessorID,
		ProcessorVersion: c.DocumentAIProcessorVersion,
	}
}

// Tessdata returns the trained data locations.
func (c *Config) Tessdata() ocr.TessdataResolver {
	return ocr.TessdataResolver{BestPrefix: c.TessdataBestPrefix, StandardPrefix: c.TessdataPrefix}
}

// PlanOptions returns the built-in pass plan parameters.
func (c *Config) PlanOptions() pipeline.PlanOptions {
	opts := pipeline.DefaultPlanOptions()
	opts.Floor = c.ConfidenceFloor
	opts.Tessdata = c.Tessdata()
	opts.Neural = c.NeuralPass
	opts.NeuralModel = c.OpenAIModel
	opts.Fallback = c.FallbackEngine
	if c.FallbackEngine == FallbackNone {
		opts.Fallback = ""
	}
	return opts
}

// TextOptions returns the text normalizer switches.
func (c *Config) TextOptions() (textnorm.Options, error) {
	return textnorm.ParseSkipRules(c.TextSkipRules)
}

// Margins returns the PREPROCESS_CROP override, or nil when unset.
func (c *Config) Margins() (*imaging.Margins, error) {
	if c.PreprocessCrop == "" {
		return nil, nil
	}
	m, err := imaging.ParseMargins(c.PreprocessCrop)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 90s: %w", key, err)
	}
	return d, nil
}
