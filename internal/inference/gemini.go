package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"enmap/internal/config"
	"enmap/internal/logging"
	"enmap/internal/types"
)

// GeminiClient runs inference through the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed inference client.
func NewGeminiClient(ctx context.Context, cfg config.InferenceConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Name() string { return "gemini" }

// MapPoint asks the model to pick a target path from the offered
// vocabulary, constrained to JSON output.
func (c *GeminiClient) MapPoint(ctx context.Context, req *Request) (*Response, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(buildPrompt(req), genai.RoleUser),
	}
	temperature := float32(0.1)
	genCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &types.TimeoutError{Op: "inference.MapPoint"}
		}
		return nil, &types.InferenceServiceError{Status: 0, Message: err.Error()}
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return nil, &types.MalformedResponseError{Reason: "empty model output"}
	}

	var out Response
	if err := json.Unmarshal([]byte(extractJSON(text)), &out); err != nil {
		return nil, &types.MalformedResponseError{Reason: fmt.Sprintf("invalid JSON from model: %v", err)}
	}
	if err := validateResponse(&out); err != nil {
		return nil, err
	}

	logging.InferenceDebug("gemini mapped %s -> %s (conf=%.2f)", req.PointName, out.TargetPath, out.Confidence)
	return &out, nil
}

// extractJSON strips markdown fences models sometimes wrap around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}
