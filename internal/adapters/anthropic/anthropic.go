// Package anthropic adapts Anthropic's Messages API to the Model
// Gateway's uniform Adapter contract. There is no first-party Go SDK for
// this API in the reference corpus, so — matching the teacher's own
// precedent — this is a plain net/http client.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/pipelineerr"
)

func init() {
	gateway.RegisterProvider("anthropic", New)
}

const (
	defaultBaseURL    = "https://api.anthropic.com/v1"
	defaultAPIVersion = "2023-06-01"
	defaultMaxTokens  = 1024
	httpTimeout       = 90 * time.Second
)

// Adapter wraps the Anthropic Messages API for one model.
type Adapter struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	maxTokens  int
	client     *http.Client
}

// New builds an Anthropic Adapter from a gateway.ModelConfig.
func New(cfg gateway.ModelConfig) (gateway.Adapter, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("anthropic adapter requires model_id")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic adapter requires api_key")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		apiVersion: defaultAPIVersion,
		model:      cfg.ModelID,
		maxTokens:  maxTokens,
		client:     &http.Client{Timeout: httpTimeout},
	}, nil
}

type messageRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Messages    []anthropicMsg `json:"messages"`
	System      string         `json:"system,omitempty"`
	Temperature float64        `json:"temperature,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []contentBlock `json:"content"`
	Usage   usageStats     `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usageStats struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Generate issues one Messages API call with the system prompt passed as
// a separate field, per Anthropic's contract.
func (a *Adapter) Generate(ctx context.Context, systemPrompt string, messages []conversation.Message, params gateway.Params) (gateway.Result, error) {
	maxTokens := a.maxTokens
	if params.MaxTokens > 0 {
		maxTokens = params.MaxTokens
	}

	req := messageRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		Messages:    toAnthropicMessages(messages),
		System:      systemPrompt,
		Temperature: params.Temperature,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return gateway.Result{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	url := strings.TrimSuffix(a.baseURL, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return gateway.Result{}, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.apiVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return gateway.Result{}, pipelineerr.NewGatewayError("anthropic", true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return gateway.Result{}, pipelineerr.NewGatewayError("anthropic", true, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return gateway.Result{}, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	var resp messageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return gateway.Result{}, fmt.Errorf("anthropic: parse response: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return gateway.Result{
		Text:      text,
		TokensIn:  resp.Usage.InputTokens,
		TokensOut: resp.Usage.OutputTokens,
	}, nil
}

func toAnthropicMessages(messages []conversation.Message) []anthropicMsg {
	out := make([]anthropicMsg, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == conversation.RoleAssistant {
			role = "assistant"
		}
		out = append(out, anthropicMsg{Role: role, Content: m.Content})
	}
	return out
}

// classifyHTTPError maps Anthropic's HTTP status onto the gateway's
// transient/terminal split: rate limits and 5xx retry, auth/validation
// do not.
func classifyHTTPError(status int, body []byte) error {
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)
	msg := errResp.Error.Message
	if msg == "" {
		msg = string(body)
	}

	transient := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	return pipelineerr.NewGatewayError("anthropic", transient, fmt.Errorf("HTTP %d: %s", status, msg))
}
