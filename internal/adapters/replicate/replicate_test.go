package replicate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elenchus-labs/tutorbench/internal/adapters/replicate"
	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockReplicateServer mimics the subset of Replicate's HTTP API exercised
// by a single synchronous prediction: model lookup, prediction creation
// returning "succeeded" immediately, and status polling.
type mockReplicateServer struct {
	server *httptest.Server
	output any
}

func newMockReplicateServer(output any) *mockReplicateServer {
	m := &mockReplicateServer{output: output}
	m.server = httptest.NewServer(http.HandlerFunc(m.handler))
	return m
}

func (m *mockReplicateServer) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if strings.Contains(r.URL.Path, "/models/") && r.Method == http.MethodGet {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"owner": "meta", "name": "llama-2-7b-chat",
			"latest_version": map[string]any{"id": "test-version-id"},
		})
		return
	}

	if strings.Contains(r.URL.Path, "/predictions") && r.Method == http.MethodPost {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "prediction-1", "version": "test-version-id", "status": "succeeded",
			"output": m.output,
			"urls":   map[string]string{"get": m.server.URL + "/predictions/prediction-1"},
		})
		return
	}

	if strings.Contains(r.URL.Path, "/predictions/") && r.Method == http.MethodGet {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "prediction-1", "version": "test-version-id", "status": "succeeded", "output": m.output,
		})
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (m *mockReplicateServer) URL() string { return m.server.URL }
func (m *mockReplicateServer) Close()      { m.server.Close() }

func TestNew_RequiresModelAndKey(t *testing.T) {
	_, err := replicate.New(gateway.ModelConfig{})
	assert.Error(t, err)

	_, err = replicate.New(gateway.ModelConfig{ModelID: "meta/llama-2-7b-chat"})
	assert.Error(t, err)
}

func TestAdapter_Generate(t *testing.T) {
	mock := newMockReplicateServer([]string{"what led you to that conclusion?"})
	defer mock.Close()

	adapter, err := replicate.New(gateway.ModelConfig{
		ModelID: "meta/llama-2-7b-chat",
		APIKey:  "test-key",
		BaseURL: mock.URL(),
	})
	require.NoError(t, err)

	msgs := []conversation.Message{conversation.NewUserMessage("I think it's unjust")}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := adapter.Generate(ctx, "be Socratic", msgs, gateway.Params{})
	require.NoError(t, err)
	assert.Equal(t, "what led you to that conclusion?", res.Text)
}

func TestAdapter_EmptyPromptRejected(t *testing.T) {
	adapter, err := replicate.New(gateway.ModelConfig{ModelID: "meta/llama-2-7b-chat", APIKey: "test-key"})
	require.NoError(t, err)

	_, err = adapter.Generate(context.Background(), "", nil, gateway.Params{})
	require.Error(t, err)
}

func TestAdapter_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "model not found"})
	}))
	defer srv.Close()

	adapter, err := replicate.New(gateway.ModelConfig{ModelID: "nonexistent/model", APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = adapter.Generate(context.Background(), "", []conversation.Message{conversation.NewUserMessage("hi")}, gateway.Params{})
	require.Error(t, err)
}
