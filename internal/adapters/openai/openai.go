// Package openai adapts OpenAI's chat completions API to the Model
// Gateway's uniform Adapter contract.
package openai

import (
	"context"
	"fmt"

	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/pipelineerr"
	goopenai "github.com/sashabaranov/go-openai"
)

func init() {
	gateway.RegisterProvider("openai", New)
}

// Adapter wraps an OpenAI chat completions client for one model.
type Adapter struct {
	client *goopenai.Client
	model  string
}

// New builds an OpenAI Adapter from a gateway.ModelConfig.
func New(cfg gateway.ModelConfig) (gateway.Adapter, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("openai adapter requires model_id")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai adapter requires api_key")
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Adapter{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  cfg.ModelID,
	}, nil
}

// Generate sends the system prompt and message history as a single chat
// completion request.
func (a *Adapter) Generate(ctx context.Context, systemPrompt string, messages []conversation.Message, params gateway.Params) (gateway.Result, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    a.model,
		Messages: toOpenAIMessages(systemPrompt, messages),
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if params.Temperature != 0 {
		req.Temperature = float32(params.Temperature)
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return gateway.Result{}, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return gateway.Result{}, pipelineerr.NewGatewayError("openai", false, fmt.Errorf("empty choices"))
	}

	return gateway.Result{
		Text:      resp.Choices[0].Message.Content,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}

func toOpenAIMessages(systemPrompt string, messages []conversation.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		role := goopenai.ChatMessageRoleUser
		if m.Role == conversation.RoleAssistant {
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// wrapError classifies OpenAI SDK errors as transient (rate limit, 5xx,
// network) or terminal (auth, validation, unknown model) per spec.md §7.
func wrapError(err error) error {
	var apiErr *goopenai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		transient := apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
		return pipelineerr.NewGatewayError("openai", transient, err)
	}
	// Network errors (connection reset, DNS, timeout) are transient.
	return pipelineerr.NewGatewayError("openai", true, err)
}

func asAPIError(err error, target **goopenai.APIError) bool {
	apiErr, ok := err.(*goopenai.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
