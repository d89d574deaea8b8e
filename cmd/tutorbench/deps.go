package main

import (
	"context"
	"fmt"

	"github.com/elenchus-labs/tutorbench/pkg/config"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/elenchus-labs/tutorbench/pkg/kvstore"
	"github.com/elenchus-labs/tutorbench/pkg/metrics"
	"github.com/elenchus-labs/tutorbench/pkg/objectstore"
	"github.com/elenchus-labs/tutorbench/pkg/orchestrator"
)

// loadConfig loads and validates the infrastructure configuration named
// by g, merging in its named deployment profile if one was given.
func loadConfig(g *Globals) (*config.Config, error) {
	cfg, err := config.LoadConfigKoanf(g.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.Profile != "" {
		if err := cfg.ApplyProfile(g.Profile); err != nil {
			return nil, fmt.Errorf("apply profile %q: %w", g.Profile, err)
		}
	}
	cfg.Concurrency = cfg.Concurrency.WithDefaults()
	return cfg, nil
}

// buildDeps wires every orchestrator.Deps collaborator from cfg. local
// selects in-memory kv/object stores and queues for a single-process dev
// run in place of DynamoDB, S3, and SQS.
func buildDeps(ctx context.Context, cfg *config.Config, local bool) (orchestrator.Deps, error) {
	deps := orchestrator.Deps{Metrics: metrics.NewMetrics()}

	if local {
		deps.KV = kvstore.NewMemory()
		deps.Objects = objectstore.NewMemory()
		deps.DialogueQueue = jobbus.NewMemoryQueue[jobbus.DialogueJob]()
		deps.JudgeQueue = jobbus.NewMemoryQueue[jobbus.JudgeJob]()
		deps.RunJudgedBus = jobbus.NewMemoryQueue[jobbus.RunJudgedEvent]()
	} else {
		kv, err := kvstore.NewDynamoDB(ctx, cfg.AWS.Region, cfg.Storage.Table, cfg.AWS.BaseURL)
		if err != nil {
			return deps, fmt.Errorf("connect dynamodb: %w", err)
		}
		deps.KV = kv

		objects, err := objectstore.NewS3(ctx, cfg.AWS.Region, cfg.Storage.Bucket, cfg.AWS.BaseURL)
		if err != nil {
			return deps, fmt.Errorf("connect s3: %w", err)
		}
		deps.Objects = objects

		dialogueQueue, err := jobbus.NewSQSQueue[jobbus.DialogueJob](ctx, cfg.AWS.Region, cfg.Queues.DialogueJobsURL, cfg.AWS.BaseURL)
		if err != nil {
			return deps, fmt.Errorf("connect dialogue-jobs queue: %w", err)
		}
		deps.DialogueQueue = dialogueQueue

		judgeQueue, err := jobbus.NewSQSQueue[jobbus.JudgeJob](ctx, cfg.AWS.Region, cfg.Queues.JudgeJobsURL, cfg.AWS.BaseURL)
		if err != nil {
			return deps, fmt.Errorf("connect judge-jobs queue: %w", err)
		}
		deps.JudgeQueue = judgeQueue

		runJudgedBus, err := jobbus.NewSQSQueue[jobbus.RunJudgedEvent](ctx, cfg.AWS.Region, cfg.Queues.RunJudgedEventsURL, cfg.AWS.BaseURL)
		if err != nil {
			return deps, fmt.Errorf("connect run-judged event bus: %w", err)
		}
		deps.RunJudgedBus = runJudgedBus
	}

	gw, err := gateway.New(toGatewayModels(cfg.Models, cfg.AWS.Region))
	if err != nil {
		return deps, fmt.Errorf("build gateway: %w", err)
	}
	deps.Gateway = gw

	return deps, nil
}

// toGatewayModels adapts the infra config's model registry to the
// gateway's own ModelConfig shape. region is the shared AWS region used
// by AWS-hosted providers (bedrock); non-AWS providers ignore it.
func toGatewayModels(models []config.ModelConfig, region string) []gateway.ModelConfig {
	out := make([]gateway.ModelConfig, len(models))
	for i, m := range models {
		out[i] = gateway.ModelConfig{
			ModelID:     m.ModelID,
			Provider:    m.Provider,
			APIKey:      m.APIKey,
			BaseURL:     m.BaseURL,
			Region:      region,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
			RateLimit:   m.RateLimit,
		}
	}
	return out
}
