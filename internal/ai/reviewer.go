// Package ai calls the code-review backend. The backend is opaque to the
// rest of the pipeline: callers hand it code and get a parsed ReviewResult
// or an error, and the circuit breaker in front of it decides availability.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog/log"

	"github.com/somdiproy/smartcode-review/internal/domain"
)

// ErrBackend wraps invocation failures so the worker can trip the breaker
// on any of them uniformly.
var ErrBackend = errors.New("ai backend failure")

// Reviewer produces a review for a code payload.
type Reviewer interface {
	Review(ctx context.Context, code, language string) (*domain.ReviewResult, error)
}

// BedrockAPI is the slice of the Bedrock runtime client the reviewer needs.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockReviewer invokes a converse-style model through the Bedrock
// runtime InvokeModel API.
type BedrockReviewer struct {
	client  BedrockAPI
	modelID string
}

// NewBedrockReviewer wraps a Bedrock runtime client for modelID.
func NewBedrockReviewer(client BedrockAPI, modelID string) *BedrockReviewer {
	return &BedrockReviewer{client: client, modelID: modelID}
}

// Request/response shapes for the converse-style message format.
type modelRequest struct {
	Messages        []modelMessage `json:"messages"`
	InferenceConfig inferenceCfg   `json:"inferenceConfig"`
}

type modelMessage struct {
	Role    string         `json:"role"`
	Content []modelContent `json:"content"`
}

type modelContent struct {
	Text string `json:"text"`
}

type inferenceCfg struct {
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
}

type modelResponse struct {
	Output struct {
		Message struct {
			Content []modelContent `json:"content"`
		} `json:"message"`
	} `json:"output"`
}

// Review sends the payload for analysis and parses the JSON verdict out of
// the model's reply.
func (b *BedrockReviewer) Review(ctx context.Context, code, language string) (*domain.ReviewResult, error) {
	req := modelRequest{
		Messages: []modelMessage{{
			Role:    "user",
			Content: []modelContent{{Text: buildPrompt(code, language)}},
		}},
		InferenceConfig: inferenceCfg{MaxTokens: 4000, Temperature: 0.1, TopP: 0.9},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrBackend, err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invoke %s: %v", ErrBackend, b.modelID, err)
	}

	var resp modelResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrBackend, err)
	}
	if len(resp.Output.Message.Content) == 0 {
		return nil, fmt.Errorf("%w: empty model response", ErrBackend)
	}

	result, err := ParseVerdict(resp.Output.Message.Content[0].Text)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("model", b.modelID).Int("issues", len(result.Issues)).Msg("review completed")
	return result, nil
}

// ParseVerdict extracts the structured review from the model's text reply.
// Models occasionally wrap JSON in a markdown fence despite being told not
// to, so the fence is stripped before decoding.
func ParseVerdict(text string) (*domain.ReviewResult, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	var res domain.ReviewResult
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		return nil, fmt.Errorf("%w: unparseable verdict: %v", ErrBackend, err)
	}
	return &res, nil
}

func buildPrompt(code, language string) string {
	return fmt.Sprintf(`You are an expert code reviewer. Analyze the following %s code for security vulnerabilities, performance issues, code quality, and potential bugs.

Respond only with valid JSON, no additional text or markdown formatting, using this structure:
{
  "summary": "Brief overview of the code quality and main findings",
  "score": 8.5,
  "issues": [
    {
      "severity": "high",
      "line": 15,
      "description": "Detailed description of the issue",
      "suggestion": "How to fix this issue"
    }
  ]
}

Code to analyze:
`+"```%s\n%s\n```", language, language, code)
}
