// Package gateway implements the uniform Model Gateway contract:
// generate(model_id, system_prompt, messages, params) -> {text, tokens_in,
// tokens_out, latency_ms}, dispatched over a fixed, config-driven registry
// of provider adapters, wrapped in bounded exponential backoff, a per-call
// timeout, and per-model_id rate limiting.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/pipelineerr"
	"github.com/elenchus-labs/tutorbench/pkg/ratelimit"
	"github.com/elenchus-labs/tutorbench/pkg/registry"
	"github.com/elenchus-labs/tutorbench/pkg/retry"
)

// Params carries the per-call generation parameters a caller may tune.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// Result is the uniform response shape every adapter must produce.
type Result struct {
	Text      string
	TokensIn  int
	TokensOut int
	LatencyMs int64
}

// Adapter is the one-method interface every provider family implements.
// Adapters never see retry, timeout, or rate-limit concerns — the Gateway
// wraps every call with those uniformly.
type Adapter interface {
	Generate(ctx context.Context, systemPrompt string, messages []conversation.Message, params Params) (Result, error)
}

// Factory builds an Adapter from a ModelConfig. Provider packages register
// a Factory under their family name via init(), mirroring the teacher's
// capability-registration pattern.
type Factory func(ModelConfig) (Adapter, error)

// providers is the Gateway's capability registry: one Factory per
// provider family, keyed by provider name. It is the teacher's own
// pkg/registry.Registry, the same generic registry
// pkg/scenario uses for its compiled-in scenario set, rather than a
// hand-rolled map — RegisterProvider/getProvider are kept as the
// package's public surface so adapter packages and the Gateway itself
// don't need to know registry.Config exists underneath.
var providers = registry.New[Adapter]("gateway-providers")

// RegisterProvider makes a provider family's factory available to the
// Gateway under the given name (e.g. "openai", "anthropic", "bedrock",
// "replicate"). Called from each adapter package's init(), mirroring the
// teacher's capability-registration pattern (pkg/registry). factory is
// adapted into registry.Registry[Adapter]'s Config-based factory shape
// via a JSON round trip of ModelConfig, the same attrsOf/fromAttrs
// idiom pkg/orchestrator uses to flatten domain records into kv-store
// items.
func RegisterProvider(provider string, factory Factory) {
	providers.Register(provider, func(cfg registry.Config) (Adapter, error) {
		mc, err := modelConfigFromRegistry(cfg)
		if err != nil {
			return nil, fmt.Errorf("gateway: decode model config for provider %q: %w", provider, err)
		}
		return factory(mc)
	})
}

func getProvider(provider string) (Factory, bool) {
	if !providers.Has(provider) {
		return nil, false
	}
	return func(mc ModelConfig) (Adapter, error) {
		cfg, err := registryConfigFromModel(mc)
		if err != nil {
			return nil, fmt.Errorf("gateway: encode model config for provider %q: %w", provider, err)
		}
		return providers.Create(provider, cfg)
	}, true
}

func registryConfigFromModel(mc ModelConfig) (registry.Config, error) {
	b, err := json.Marshal(mc)
	if err != nil {
		return nil, err
	}
	var cfg registry.Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func modelConfigFromRegistry(cfg registry.Config) (ModelConfig, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return ModelConfig{}, err
	}
	var mc ModelConfig
	if err := json.Unmarshal(b, &mc); err != nil {
		return ModelConfig{}, err
	}
	return mc, nil
}

// ModelConfig describes one entry of the fixed model_id -> provider
// mapping, built from the infrastructure config's "models" list.
type ModelConfig struct {
	ModelID     string
	Provider    string
	APIKey      string
	BaseURL     string
	Region      string
	Temperature float64
	MaxTokens   int
	RateLimit   float64 // requests/sec; 0 = unlimited
}

// RetryPolicy mirrors spec.md §4.1: 4 retries, delays 2s/4s/8s/16s plus
// jitter, 60s per-call timeout.
func RetryPolicy() retry.Config {
	return retry.Config{
		MaxAttempts:  5, // initial attempt + 4 retries
		InitialDelay: 2 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		RetryableFunc: func(err error) bool {
			kind, ok := pipelineerr.Classify(err)
			return ok && kind.Retryable()
		},
	}
}

const callTimeout = 60 * time.Second

// Gateway dispatches generate calls to the adapter registered for a
// model's provider family, applying retry, timeout, and rate limiting.
type Gateway struct {
	models  map[string]ModelConfig
	built   map[string]Adapter
	limiter map[string]*ratelimit.Limiter
	retryFn func(context.Context, retry.Config, func() error) error
}

// New builds a Gateway from the fixed model registry. Adapters are
// constructed eagerly so a misconfigured provider fails at startup
// rather than on the first call.
func New(models []ModelConfig) (*Gateway, error) {
	gw := &Gateway{
		models:  make(map[string]ModelConfig, len(models)),
		built:   make(map[string]Adapter, len(models)),
		limiter: make(map[string]*ratelimit.Limiter, len(models)),
		retryFn: retry.Do,
	}

	for _, mc := range models {
		factory, ok := getProvider(mc.Provider)
		if !ok {
			return nil, fmt.Errorf("gateway: no adapter registered for provider %q (model %q)", mc.Provider, mc.ModelID)
		}
		adapter, err := factory(mc)
		if err != nil {
			return nil, fmt.Errorf("gateway: building adapter for model %q: %w", mc.ModelID, err)
		}
		gw.models[mc.ModelID] = mc
		gw.built[mc.ModelID] = adapter
		if mc.RateLimit > 0 {
			gw.limiter[mc.ModelID] = ratelimit.NewLimiter(mc.RateLimit, mc.RateLimit)
		}
	}

	return gw, nil
}

// Generate dispatches to the adapter for model_id, honoring retry,
// timeout, and rate-limit policy. An unregistered model_id fails
// immediately with pipelineerr.ErrUnknownModel (never retried).
func (g *Gateway) Generate(ctx context.Context, modelID, systemPrompt string, messages []conversation.Message, params Params) (Result, error) {
	adapter, ok := g.built[modelID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", pipelineerr.ErrUnknownModel, modelID)
	}

	if mc := g.models[modelID]; params.MaxTokens == 0 {
		params.MaxTokens = mc.MaxTokens
	}
	if mc := g.models[modelID]; params.Temperature == 0 {
		params.Temperature = mc.Temperature
	}

	if limiter, ok := g.limiter[modelID]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	var result Result
	err := g.retryFn(ctx, RetryPolicy(), func() error {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		start := time.Now()
		res, err := adapter.Generate(callCtx, systemPrompt, messages, params)
		if err != nil {
			return err
		}
		if res.LatencyMs == 0 {
			res.LatencyMs = time.Since(start).Milliseconds()
		}
		result = res
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return result, nil
}

// HasModel reports whether model_id is present in the fixed registry.
func (g *Gateway) HasModel(modelID string) bool {
	_, ok := g.built[modelID]
	return ok
}
