// Package config reads the server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	Port            string
	LogLevel        string
	ModelPath       string
	MetadataPath    string
	ONNXLibraryPath string
	UploadDir       string

	InvalidImageThreshold  float64
	LowConfidenceThreshold float64
	TopK                   int

	FetchTimeout     time.Duration
	MaxDownloadBytes int64
	ShutdownTimeout  time.Duration
}

// Load reads the environment, falling back to defaults rooted at baseDir
// for the model files.
func Load(baseDir string) (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ModelPath:       getEnv("MODEL_PATH", baseDir+"/models/fundus_efficientnet_b0.onnx"),
		MetadataPath:    getEnv("METADATA_PATH", baseDir+"/models/model_metadata.json"),
		ONNXLibraryPath: os.Getenv("ONNX_LIB_PATH"),
		UploadDir:       getEnv("UPLOAD_DIR", baseDir+"/static/uploads"),
	}

	var err error
	if cfg.InvalidImageThreshold, err = getFloat("INVALID_IMAGE_THRESHOLD", 0.50); err != nil {
		return nil, err
	}
	if cfg.LowConfidenceThreshold, err = getFloat("LOW_CONFIDENCE_THRESHOLD", 0.45); err != nil {
		return nil, err
	}
	if cfg.TopK, err = getInt("TOP_K", 3); err != nil {
		return nil, err
	}
	if cfg.TopK < 1 {
		return nil, fmt.Errorf("TOP_K must be positive, got %d", cfg.TopK)
	}
	if cfg.FetchTimeout, err = getDuration("FETCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	maxBytes, err := getInt("MAX_DOWNLOAD_BYTES", 20<<20)
	if err != nil {
		return nil, err
	}
	if maxBytes < 1 {
		return nil, fmt.Errorf("MAX_DOWNLOAD_BYTES must be positive, got %d", maxBytes)
	}
	cfg.MaxDownloadBytes = int64(maxBytes)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return v, nil
}
