package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elenchus-labs/tutorbench/internal/adapters/openai"
	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAdapter_Generate(t *testing.T) {
	srv := chatServer(t, http.StatusOK, map[string]any{
		"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o-mini",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": "why do you ask?"}, "finish_reason": "stop"},
		},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
	})

	adapter, err := openai.New(gateway.ModelConfig{ModelID: "gpt-4o-mini", APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	msgs := []conversation.Message{conversation.NewUserMessage("what is justice?")}
	res, err := adapter.Generate(context.Background(), "you are a tutor", msgs, gateway.Params{MaxTokens: 100})
	require.NoError(t, err)

	assert.Equal(t, "why do you ask?", res.Text)
	assert.Equal(t, 12, res.TokensIn)
	assert.Equal(t, 4, res.TokensOut)
}

func TestAdapter_TransientOnRateLimit(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{"message": "rate limited", "type": "rate_limit_error"},
	})

	adapter, err := openai.New(gateway.ModelConfig{ModelID: "gpt-4o-mini", APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = adapter.Generate(context.Background(), "", nil, gateway.Params{})
	require.Error(t, err)
}

func TestNew_RequiresModelAndKey(t *testing.T) {
	_, err := openai.New(gateway.ModelConfig{})
	assert.Error(t, err)

	_, err = openai.New(gateway.ModelConfig{ModelID: "gpt-4o-mini"})
	assert.Error(t, err)
}
