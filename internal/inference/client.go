// Package inference talks to the semantic inference service that proposes
// target point paths for names the pattern memory cannot resolve.
package inference

import (
	"context"
	"fmt"
	"strings"

	"enmap/internal/types"
)

// Request is one classification question for the inference service.
type Request struct {
	PointName   string   `json:"pointName"`
	DeviceType  string   `json:"deviceType"`
	DeviceID    string   `json:"deviceId,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Description string   `json:"description,omitempty"`
	Vocabulary  []string `json:"vocabulary"`
}

// Response is the service's answer. TargetPath must be one of the offered
// vocabulary entries; callers validate that before trusting it.
type Response struct {
	TargetPath     string   `json:"targetPath"`
	Confidence     float64  `json:"confidence"`
	ReasoningSteps []string `json:"reasoningSteps,omitempty"`
}

// Client defines the interface for inference providers.
type Client interface {
	// MapPoint proposes a target path for the point. Implementations
	// classify failures through the shared error types so callers can
	// tell transient faults from permanent ones.
	MapPoint(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// validateResponse rejects structurally unusable answers. These are never
// retried: a malformed answer is a contract bug, not a transient fault.
func validateResponse(resp *Response) error {
	if resp == nil {
		return &types.MalformedResponseError{Reason: "empty response"}
	}
	if strings.TrimSpace(resp.TargetPath) == "" {
		return &types.MalformedResponseError{Reason: "missing targetPath"}
	}
	resp.Confidence = types.Clamp(resp.Confidence, 0, 1)
	return nil
}

// buildPrompt renders the classification question for prompt-driven
// providers. The vocabulary constrains the answer space.
func buildPrompt(req *Request) string {
	var sb strings.Builder
	sb.WriteString("You map building automation point names to a canonical measurement model.\n\n")
	fmt.Fprintf(&sb, "Point name: %s\n", req.PointName)
	fmt.Fprintf(&sb, "Device type: %s\n", req.DeviceType)
	if req.Unit != "" {
		fmt.Fprintf(&sb, "Unit: %s\n", req.Unit)
	}
	if req.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", req.Description)
	}
	sb.WriteString("\nChoose the single best target path from this list:\n")
	for _, v := range req.Vocabulary {
		fmt.Fprintf(&sb, "  - %s\n", v)
	}
	sb.WriteString("\nRespond with JSON only, no prose:\n")
	sb.WriteString(`{"targetPath": "<one of the listed paths>", "confidence": <0.0-1.0>, "reasoningSteps": ["<short step>", "..."]}`)
	sb.WriteString("\nIf none of the paths fit, use confidence 0.0.\n")
	return sb.String()
}

// NoneClient is the provider used when inference is disabled. Every call
// reports the service as unavailable, which routes classification to the
// rule-based fallback.
type NoneClient struct{}

func (NoneClient) MapPoint(ctx context.Context, req *Request) (*Response, error) {
	return nil, &types.InferenceServiceError{Status: 0, Message: "inference provider disabled"}
}

func (NoneClient) Name() string { return "none" }
