// Package bedrock adapts AWS Bedrock's InvokeModel API to the Model
// Gateway's uniform Adapter contract. It dispatches request/response
// shape per model family (Claude, Titan, Llama) behind the one Generate
// method.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/pipelineerr"
)

func init() {
	gateway.RegisterProvider("bedrock", New)
}

const (
	defaultMaxTokens   = 512
	defaultTemperature = 0.7
)

// Adapter wraps the Bedrock Runtime InvokeModel API for one model.
type Adapter struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float64
}

// New builds a Bedrock Adapter from a gateway.ModelConfig. cfg.Region is
// required; cfg.BaseURL, if set, overrides the service endpoint (used in
// tests against a local stub).
func New(cfg gateway.ModelConfig) (gateway.Adapter, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("bedrock adapter requires model_id")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock adapter requires region")
	}

	ctx := context.Background()
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	var opts []func(*bedrockruntime.Options)
	if cfg.BaseURL != "" {
		opts = append(opts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(cfg.BaseURL)
		})
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	return &Adapter{
		client:      bedrockruntime.NewFromConfig(awsCfg, opts...),
		modelID:     cfg.ModelID,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

// Generate dispatches request construction and response parsing by
// model-family prefix, then invokes the model.
func (a *Adapter) Generate(ctx context.Context, systemPrompt string, messages []conversation.Message, params gateway.Params) (gateway.Result, error) {
	maxTokens := a.maxTokens
	if params.MaxTokens > 0 {
		maxTokens = params.MaxTokens
	}
	temperature := a.temperature
	if params.Temperature != 0 {
		temperature = params.Temperature
	}

	var body []byte
	var err error
	switch {
	case strings.HasPrefix(a.modelID, "anthropic.claude"):
		body, err = buildClaudeRequest(systemPrompt, messages, maxTokens, temperature)
	case strings.HasPrefix(a.modelID, "amazon.titan"):
		body, err = buildTitanRequest(systemPrompt, messages, maxTokens, temperature)
	case strings.HasPrefix(a.modelID, "meta.llama"):
		body, err = buildLlamaRequest(systemPrompt, messages, maxTokens, temperature)
	default:
		return gateway.Result{}, fmt.Errorf("%w: unsupported bedrock model family %q", pipelineerr.ErrUnknownModel, a.modelID)
	}
	if err != nil {
		return gateway.Result{}, fmt.Errorf("bedrock: build request: %w", err)
	}

	out, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return gateway.Result{}, classifyError(err)
	}

	var text string
	switch {
	case strings.HasPrefix(a.modelID, "anthropic.claude"):
		text, err = parseClaudeResponse(out.Body)
	case strings.HasPrefix(a.modelID, "amazon.titan"):
		text, err = parseTitanResponse(out.Body)
	case strings.HasPrefix(a.modelID, "meta.llama"):
		text, err = parseLlamaResponse(out.Body)
	}
	if err != nil {
		return gateway.Result{}, fmt.Errorf("bedrock: parse response: %w", err)
	}

	return gateway.Result{Text: text}, nil
}

func flattenMessages(systemPrompt string, messages []conversation.Message) []map[string]string {
	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == conversation.RoleAssistant {
			role = "assistant"
		}
		out = append(out, map[string]string{"role": role, "content": m.Content})
	}
	return out
}

func buildClaudeRequest(systemPrompt string, messages []conversation.Message, maxTokens int, temperature float64) ([]byte, error) {
	req := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":         maxTokens,
		"messages":           flattenMessages(systemPrompt, messages),
		"temperature":        temperature,
	}
	if systemPrompt != "" {
		req["system"] = systemPrompt
	}
	return json.Marshal(req)
}

func parseClaudeResponse(body []byte) (string, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return text, nil
}

func buildTitanRequest(systemPrompt string, messages []conversation.Message, maxTokens int, temperature float64) ([]byte, error) {
	var prompt strings.Builder
	if systemPrompt != "" {
		prompt.WriteString(systemPrompt + "\n\n")
	}
	for _, m := range messages {
		if m.Role == conversation.RoleAssistant {
			prompt.WriteString("Assistant: " + m.Content + "\n")
		} else {
			prompt.WriteString("User: " + m.Content + "\n")
		}
	}
	prompt.WriteString("Assistant:")

	req := map[string]any{
		"inputText": prompt.String(),
		"textGenerationConfig": map[string]any{
			"maxTokenCount": maxTokens,
			"temperature":   temperature,
		},
	}
	return json.Marshal(req)
}

func parseTitanResponse(body []byte) (string, error) {
	var resp struct {
		Results []struct {
			OutputText string `json:"outputText"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", fmt.Errorf("no results in Titan response")
	}
	return resp.Results[0].OutputText, nil
}

func buildLlamaRequest(systemPrompt string, messages []conversation.Message, maxTokens int, temperature float64) ([]byte, error) {
	var prompt strings.Builder
	if systemPrompt != "" {
		fmt.Fprintf(&prompt, "<s>[INST] <<SYS>>\n%s\n<</SYS>>\n\n", systemPrompt)
	} else {
		prompt.WriteString("<s>[INST] ")
	}
	for i, m := range messages {
		if i > 0 && m.Role == conversation.RoleAssistant {
			prompt.WriteString(" [/INST] " + m.Content + " </s><s>[INST] ")
			continue
		}
		if m.Role != conversation.RoleAssistant {
			prompt.WriteString(m.Content)
		}
	}
	prompt.WriteString(" [/INST]")

	req := map[string]any{
		"prompt":      prompt.String(),
		"max_gen_len": maxTokens,
		"temperature": temperature,
	}
	return json.Marshal(req)
}

func parseLlamaResponse(body []byte) (string, error) {
	var resp struct {
		Generation string `json:"generation"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	return resp.Generation, nil
}

// classifyError maps Bedrock's exception-name-in-message convention onto
// the gateway's transient/terminal split.
func classifyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ThrottlingException"), strings.Contains(msg, "TooManyRequestsException"),
		strings.Contains(msg, "ServiceUnavailableException"), strings.Contains(msg, "InternalServerException"):
		return pipelineerr.NewGatewayError("bedrock", true, err)
	default:
		return pipelineerr.NewGatewayError("bedrock", false, err)
	}
}
