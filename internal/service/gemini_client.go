package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"gradeflow/internal/config"
	"gradeflow/internal/logger"
)

// VisionClient is a single-turn multimodal text generator
type VisionClient interface {
	Generate(ctx context.Context, modelName, prompt string, attachment *InlineData) (string, error)
}

// InlineData is a file sent inline with a prompt
type InlineData struct {
	MimeType string
	Data     []byte
}

// GeminiClient calls the Gemini generateContent endpoint
type GeminiClient struct {
	config  *config.AIConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewGeminiClient creates a client with the configured timeout and request budget
func NewGeminiClient(cfg *config.AIConfig) *GeminiClient {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &GeminiClient{
		config: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Generate sends prompt plus an optional attachment and returns the first candidate's text.
// 429 and 5xx responses are retried with exponential backoff.
func (c *GeminiClient) Generate(ctx context.Context, modelName, prompt string, attachment *InlineData) (string, error) {
	parts := []geminiPart{{Text: prompt}}
	if attachment != nil {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: attachment.MimeType,
			Data:     base64.StdEncoding.EncodeToString(attachment.Data),
		}})
	}
	reqBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": parts},
		},
		"generationConfig": map[string]interface{}{
			"temperature": 0,
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s?key=%s", c.config.ModelEndpoint(modelName), c.config.APIKey)
	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			logger.Warnf("[Gemini] retry %d/%d for %s in %v: %v", attempt, maxRetries-1, modelName, backoff, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		text, retry, err := c.do(ctx, url, jsonBody)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retry {
			return "", err
		}
	}
	return "", fmt.Errorf("gemini: max retries exceeded: %w", lastErr)
}

func (c *GeminiClient) do(ctx context.Context, url string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("gemini: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", false, fmt.Errorf("gemini: status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return "", false, err
	}
	if len(geminiResp.Candidates) > 0 && len(geminiResp.Candidates[0].Content.Parts) > 0 {
		return geminiResp.Candidates[0].Content.Parts[0].Text, false, nil
	}
	return "", false, fmt.Errorf("empty response from Gemini")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
