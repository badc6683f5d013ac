package utils

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Perceptus-Labs/perceptus-screen-assistant/models"
	"go.uber.org/zap"
)

const (
	DefaultGeminiAPIBase = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-1.5-flash"

	validationPrompt = "test"
)

type GeminiClient struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	Client          *http.Client
}

type GeminiOptions struct {
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	HTTPClient      *http.Client
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

type geminiErrorBody struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func NewGeminiClient(apiKey string, opts GeminiOptions) *GeminiClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultGeminiAPIBase
	}
	if opts.Model == "" {
		opts.Model = DefaultGeminiModel
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 1000
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	return &GeminiClient{
		APIKey:          apiKey,
		BaseURL:         opts.BaseURL,
		Model:           opts.Model,
		Temperature:     opts.Temperature,
		MaxOutputTokens: opts.MaxOutputTokens,
		Client:          opts.HTTPClient,
	}
}

// AnalyzeScreen asks the model question about the sampled frame and returns the
// text of the first candidate.
func (c *GeminiClient) AnalyzeScreen(ctx context.Context, question string, frame *models.Frame) (string, error) {
	mimeType := frame.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	body := geminiRequest{
		Contents: []geminiContent{
			{
				Parts: []geminiPart{
					{Text: question},
					{InlineData: &geminiInlineData{
						MimeType: mimeType,
						Data:     base64.StdEncoding.EncodeToString(frame.Data),
					}},
				},
			},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:     c.Temperature,
			MaxOutputTokens: c.MaxOutputTokens,
		},
	}

	start := time.Now()
	resp, err := c.generateContent(ctx, c.APIKey, body, "")
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", models.ErrNoCandidates
	}

	first := resp.Candidates[0]
	zap.L().Debug("Gemini response received",
		zap.String("model", c.Model),
		zap.Int("candidates", len(resp.Candidates)),
		zap.String("finish_reason", first.FinishReason),
		zap.Duration("elapsed", time.Since(start)))

	// A candidate blocked for safety or cut at the token limit carries no text
	if len(first.Content.Parts) == 0 || first.Content.Parts[0].Text == "" {
		return "", models.ErrNoCandidates
	}
	return first.Content.Parts[0].Text, nil
}

// ValidateKey sends a minimal request with apiKey. It returns nil when the
// endpoint accepts the key.
func (c *GeminiClient) ValidateKey(ctx context.Context, apiKey string) error {
	body := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: validationPrompt}}},
		},
	}

	_, err := c.generateContent(ctx, apiKey, body, "API key validation failed")
	return err
}

func (c *GeminiClient) endpoint(apiKey string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.BaseURL, url.PathEscape(c.Model), url.QueryEscape(apiKey))
}

// generateContent posts body and decodes the response. fallback replaces the
// generic status message when the error body carries no message.
func (c *GeminiClient) generateContent(ctx context.Context, apiKey string, body geminiRequest, fallback string) (*geminiResponse, error) {
	requestBodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(apiKey), bytes.NewReader(requestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, &models.TransportError{Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.TransportError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fallback
		if msg == "" {
			msg = fmt.Sprintf("HTTP error: status %d", resp.StatusCode)
		}
		var errBody geminiErrorBody
		if json.Unmarshal(bodyBytes, &errBody) == nil && errBody.Error != nil && errBody.Error.Message != "" {
			msg = errBody.Error.Message
		}
		zap.L().Warn("Gemini API returned error status", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return nil, &models.APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var response geminiResponse
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return nil, &models.TransportError{Err: fmt.Errorf("failed to unmarshal response JSON: %w", err)}
	}

	return &response, nil
}
