package main

import (
	"encoding/json"
	"fmt"

	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/objectstore"
	"github.com/elenchus-labs/tutorbench/pkg/scoring"
)

// tutorSystemPrompt is the fixed persona used for the ad hoc local
// dialogue path, which has no scenario to draw a persona from.
const tutorSystemPrompt = "You are a Socratic tutor. Guide the student toward the answer with questions; never state it outright."

// RunDialogueCmd drives a single ad hoc dialogue directly through the
// model gateway, the minimal local debugging path: it does not touch the
// kv-store or the scenario registry, repeating the same seed prompt for
// every turn. Output is a single JSON summary on standard output, plus
// raw turn objects under the configured bucket when one is set.
type RunDialogueCmd struct {
	Model  string `required:"" name:"model" help:"Model id to drive (must appear in the loaded config's models list)."`
	Prompt string `required:"" name:"prompt" help:"Seed student prompt, repeated on every turn."`
	Turns  int    `default:"1" name:"turns" help:"Number of turns to run."`
}

type dialogueTurnResult struct {
	TurnIndex  int    `json:"turn_index"`
	AIResponse string `json:"ai_response"`
	TokensIn   int    `json:"tokens_in"`
	TokensOut  int    `json:"tokens_out"`
	LatencyMs  int64  `json:"latency_ms"`
	HasAdvice  bool   `json:"has_advice"`
	IsLeading  bool   `json:"is_leading"`
}

type dialogueSummary struct {
	Model          string               `json:"model"`
	Turns          []dialogueTurnResult `json:"turns"`
	TotalTokensIn  int                  `json:"total_tokens_in"`
	TotalTokensOut int                  `json:"total_tokens_out"`
}

func (r *RunDialogueCmd) Run(g *Globals) error {
	ctx, cancel := setupContext(g)
	defer cancel()

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	configureLogging(g)

	deps, err := buildDeps(ctx, cfg, g.Local)
	if err != nil {
		return err
	}

	summary := dialogueSummary{Model: r.Model}
	var messages []conversation.Message

	for turnIndex := 0; turnIndex < r.Turns; turnIndex++ {
		messages = append(messages, conversation.NewUserMessage(r.Prompt))

		result, err := deps.Gateway.Generate(ctx, r.Model, tutorSystemPrompt, messages, gateway.Params{})
		if err != nil {
			return fmt.Errorf("generate turn %d: %w", turnIndex, err)
		}
		messages = append(messages, conversation.NewAssistantMessage(result.Text))

		heuristics := scoring.Heuristics(result.Text)
		turnResult := dialogueTurnResult{
			TurnIndex:  turnIndex,
			AIResponse: result.Text,
			TokensIn:   result.TokensIn,
			TokensOut:  result.TokensOut,
			LatencyMs:  result.LatencyMs,
			HasAdvice:  heuristics.HasAdvice,
			IsLeading:  heuristics.IsLeading,
		}
		summary.Turns = append(summary.Turns, turnResult)
		summary.TotalTokensIn += result.TokensIn
		summary.TotalTokensOut += result.TokensOut

		if cfg.Storage.Bucket != "" {
			body, err := json.Marshal(turnResult)
			if err != nil {
				return fmt.Errorf("marshal turn %d: %w", turnIndex, err)
			}
			if err := deps.Objects.Put(ctx, objectstore.TurnKey(adhocRunID(r.Model), turnIndex), body); err != nil {
				return fmt.Errorf("write turn %d object: %w", turnIndex, err)
			}
		}
	}

	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	fmt.Println(string(body))
	return nil
}

func adhocRunID(model string) string {
	return "adhoc-" + model
}
