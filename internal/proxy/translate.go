package proxy

import (
	"fmt"

	"github.com/arutyunov/foundry-proxy/internal/apperrors"
	"github.com/arutyunov/foundry-proxy/internal/utils"
)

const (
	defaultTemperature = 0.7
	defaultTopP        = 0.95
)

// ChatMessage is one ordered message of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-style inbound request body. Immutable once parsed.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`

	MaxTokens        *int     `json:"max_tokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	Stop             any      `json:"stop,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
}

// translateRequest converts an inbound chat request into the upstream request
// body: the public model id is replaced with the entry's deployment name, the
// per-model max_tokens default is injected when the caller omitted one, and
// messages pass through unchanged. Pure; no hidden defaults beyond those
// documented here.
func translateRequest(chatRequest ChatRequest, modelEntry ModelEntry) (map[string]any, error) {
	if len(chatRequest.Messages) == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidRequest, errorEmptyMessages)
	}
	for _, message := range chatRequest.Messages {
		if utils.IsBlank(message.Role) || message.Content == "" {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrInvalidRequest, errorMessageShape)
		}
	}

	maxTokens := modelEntry.DefaultMaxTokens
	if chatRequest.MaxTokens != nil {
		maxTokens = *chatRequest.MaxTokens
	}
	temperature := defaultTemperature
	if chatRequest.Temperature != nil {
		temperature = *chatRequest.Temperature
	}
	topP := defaultTopP
	if chatRequest.TopP != nil {
		topP = *chatRequest.TopP
	}

	upstreamBody := map[string]any{
		keyModel:      modelEntry.DeploymentName,
		keyMessages:   chatRequest.Messages,
		keyMaxTokens:  maxTokens,
		keyStream:     chatRequest.Stream,
		"temperature": temperature,
		"top_p":       topP,
	}
	if chatRequest.Stop != nil {
		upstreamBody["stop"] = chatRequest.Stop
	}
	if chatRequest.FrequencyPenalty != nil {
		upstreamBody["frequency_penalty"] = *chatRequest.FrequencyPenalty
	}
	if chatRequest.PresencePenalty != nil {
		upstreamBody["presence_penalty"] = *chatRequest.PresencePenalty
	}
	return upstreamBody, nil
}
