package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Detector backends
const (
	DetectorGemini = "gemini"
	DetectorMock   = "mock"
)

// GeminiModels defines which Gemini models to use for different tasks
type GeminiModels struct {
	// RollNumber reads the roll number off a scanned sheet (short prompt, needs to be fast)
	RollNumber string `json:"rollNumber"`

	// Correction grades the full answer sheet (quality over speed, runs in the background)
	Correction string `json:"correction"`
}

// AIConfig holds all AI-related configuration
type AIConfig struct {
	APIKey            string       `json:"-"` // Never serialize
	BaseURL           string       `json:"baseUrl"`
	Models            GeminiModels `json:"models"`
	TimeoutMS         int          `json:"timeoutMs"`
	MaxRetries        int          `json:"maxRetries"`
	RequestsPerMinute int          `json:"requestsPerMinute"`
	DetectorBackend   string       `json:"detectorBackend"`
	CorrectorBackend  string       `json:"correctorBackend"`
}

func setAIDefaults(v *viper.Viper) {
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/models")
	v.SetDefault("GEMINI_MODEL_ROLL", "gemini-2.0-flash")
	v.SetDefault("GEMINI_MODEL_CORRECTION", "gemini-2.5-flash")
	v.SetDefault("GEMINI_TIMEOUT_MS", 30000)
	v.SetDefault("GEMINI_MAX_RETRIES", 3)
	v.SetDefault("GEMINI_RPM", 60)
	v.SetDefault("DETECTOR_BACKEND", "")
	v.SetDefault("CORRECTOR_BACKEND", "")
}

func loadAIConfig(v *viper.Viper) AIConfig {
	cfg := AIConfig{
		APIKey:  v.GetString("GEMINI_API_KEY"),
		BaseURL: v.GetString("GEMINI_BASE_URL"),
		Models: GeminiModels{
			RollNumber: v.GetString("GEMINI_MODEL_ROLL"),
			Correction: v.GetString("GEMINI_MODEL_CORRECTION"),
		},
		TimeoutMS:         v.GetInt("GEMINI_TIMEOUT_MS"),
		MaxRetries:        v.GetInt("GEMINI_MAX_RETRIES"),
		RequestsPerMinute: v.GetInt("GEMINI_RPM"),
		DetectorBackend:   strings.ToLower(v.GetString("DETECTOR_BACKEND")),
		CorrectorBackend:  strings.ToLower(v.GetString("CORRECTOR_BACKEND")),
	}
	cfg.DetectorBackend = cfg.resolveBackend(cfg.DetectorBackend)
	cfg.CorrectorBackend = cfg.resolveBackend(cfg.CorrectorBackend)
	return cfg
}

// resolveBackend falls back to the mock backend when no key is configured
func (c *AIConfig) resolveBackend(requested string) string {
	switch {
	case !c.IsEnabled():
		return DetectorMock
	case requested == DetectorMock:
		return DetectorMock
	default:
		return DetectorGemini
	}
}

// IsEnabled returns true if the AI API is configured
func (c *AIConfig) IsEnabled() bool {
	return c.APIKey != ""
}

// ModelEndpoint returns the full endpoint for a given model
func (c *AIConfig) ModelEndpoint(model string) string {
	return c.BaseURL + "/" + model + ":generateContent"
}
