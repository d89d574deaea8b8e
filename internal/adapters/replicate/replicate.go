// Package replicate adapts Replicate's model-hosting API to the Model
// Gateway's uniform Adapter contract. Replicate has no notion of a
// structured message history, so the conversation is flattened to a
// single prompt string, matching the teacher's own flattening
// convention. A scenario's SimulatedStudent reply policy (see
// pkg/scenario) reaches it only through the Gateway, like any other
// provider; it is not a default for that policy.
package replicate

import (
	"context"
	"fmt"
	"strings"

	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/pipelineerr"
	replicatego "github.com/replicate/replicate-go"
)

func init() {
	gateway.RegisterProvider("replicate", New)
}

const envVarName = "REPLICATE_API_TOKEN"

// Adapter wraps a Replicate client for one model (owner/name[:version]).
type Adapter struct {
	client      *replicatego.Client
	model       string
	temperature float64
	maxTokens   int
}

// New builds a Replicate Adapter from a gateway.ModelConfig.
func New(cfg gateway.ModelConfig) (gateway.Adapter, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("replicate adapter requires model_id")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("replicate adapter requires api_key")
	}

	opts := []replicatego.ClientOption{replicatego.WithToken(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, replicatego.WithBaseURL(cfg.BaseURL))
	}

	client, err := replicatego.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("replicate: create client: %w", err)
	}

	return &Adapter{
		client:      client,
		model:       cfg.ModelID,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate flattens the conversation (system prompt, then turn-by-turn
// history) into a single prompt and runs one prediction. Replicate does
// not support multiple completions per call.
func (a *Adapter) Generate(ctx context.Context, systemPrompt string, messages []conversation.Message, params gateway.Params) (gateway.Result, error) {
	prompt := flatten(systemPrompt, messages)
	if prompt == "" {
		return gateway.Result{}, fmt.Errorf("replicate: empty prompt")
	}

	temperature := a.temperature
	if params.Temperature != 0 {
		temperature = params.Temperature
	}
	maxTokens := a.maxTokens
	if params.MaxTokens > 0 {
		maxTokens = params.MaxTokens
	}

	input := replicatego.PredictionInput{
		"prompt":      prompt,
		"temperature": temperature,
	}
	if maxTokens > 0 {
		input["max_length"] = maxTokens
	}

	output, err := a.client.Run(ctx, a.model, input, nil)
	if err != nil {
		return gateway.Result{}, wrapError(err)
	}

	return gateway.Result{Text: extractText(output)}, nil
}

func flatten(systemPrompt string, messages []conversation.Message) string {
	var b strings.Builder
	if systemPrompt != "" {
		b.WriteString(systemPrompt + "\n\n")
	}
	for _, m := range messages {
		if m.Role == conversation.RoleAssistant {
			b.WriteString("Assistant: " + m.Content + "\n")
		} else {
			b.WriteString("User: " + m.Content + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func extractText(output replicatego.PredictionOutput) string {
	switch v := output.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, "")
	case []any:
		var parts []string
		for _, elem := range v {
			if s, ok := elem.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "")
	default:
		return fmt.Sprintf("%v", output)
	}
}

func wrapError(err error) error {
	if apiErr, ok := err.(*replicatego.APIError); ok {
		transient := apiErr.Status == 429 || apiErr.Status >= 500
		return pipelineerr.NewGatewayError("replicate", transient, err)
	}
	return pipelineerr.NewGatewayError("replicate", true, err)
}
