// Package scenario holds the compiled-in scenario registry: the
// persona, seed prompt, and student reply policy for each scenario_id
// the Runner can be assigned. Registration follows the teacher's
// init()-based detector registry pattern (internal/detectors), adapted
// from a pluggable detector set to a fixed, compiled-in scenario set.
package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/pipelineerr"
	"github.com/elenchus-labs/tutorbench/pkg/registry"
)

// Vector classifies the Socratic move a scenario probes. Informational
// only; it never affects scoring.
type Vector string

const (
	VectorElenchus  Vector = "elenchus"
	VectorMaieutics Vector = "maieutics"
	VectorAporia    Vector = "aporia"
)

// ReplyPolicy produces the student's next utterance given the turns
// recorded so far. Turn 0 always uses the scenario's SeedPrompt instead
// of calling Next.
type ReplyPolicy interface {
	// Next returns the student prompt for turn index turnIndex (>= 1),
	// given the full list of prior recorded turns.
	Next(ctx context.Context, priorTurns []conversation.Turn, turnIndex int) (string, error)
}

// Scenario is one compiled-in entry of the registry.
type Scenario struct {
	ID          string
	Vector      Vector
	Persona     string
	SeedPrompt  string
	ReplyPolicy ReplyPolicy
}

// scenarios is the compiled-in scenario registry, the same generic
// registry.Registry the Gateway uses for its provider factories. A
// Scenario is a data record rather than something built from config, so
// each entry is registered behind a registry.NoConfig factory that
// always returns the same value.
var scenarios = registry.New[Scenario]("scenarios")

// Register adds s to the compiled-in registry. Called from each
// scenario definition file's init().
func Register(s Scenario) {
	scenarios.Register(s.ID, registry.FromMapNoConfig(func(registry.NoConfig) (Scenario, error) {
		return s, nil
	}))
}

// Get resolves scenarioID against the registry. Returns an error
// wrapping pipelineerr.ErrScenarioNotFound when absent, matching the
// orchestrator's terminal-for-the-run handling of a bad scenario_id.
func Get(scenarioID string) (Scenario, error) {
	s, err := scenarios.Create(scenarioID, registry.Config{})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return Scenario{}, fmt.Errorf("%w: %q", pipelineerr.ErrScenarioNotFound, scenarioID)
		}
		return Scenario{}, err
	}
	return s, nil
}

// FixedSequence is a ReplyPolicy that consumes one utterance from a
// fixed ordered list per turn. It is the default policy (spec's
// single-turn scenarios use a one-element sequence; multi-turn
// maieutics/aporia scenarios declare a longer one).
type FixedSequence struct {
	Utterances []string
}

// Next returns Utterances[turnIndex-1]. Returns an error if the
// sequence is exhausted; the Runner handles that like any other
// reply-policy error, ending the run through its failure path with the
// turns recorded so far.
func (f FixedSequence) Next(_ context.Context, _ []conversation.Turn, turnIndex int) (string, error) {
	idx := turnIndex - 1
	if idx < 0 || idx >= len(f.Utterances) {
		return "", fmt.Errorf("scenario: fixed sequence exhausted at turn %d", turnIndex)
	}
	return f.Utterances[idx], nil
}

// SimulatedStudent is a ReplyPolicy that invokes a dedicated student
// model through the Gateway, prompted to continue the dialogue in
// character as persona.
type SimulatedStudent struct {
	Gateway    *gateway.Gateway
	ModelID    string
	Persona    string
	SeedPrompt string
}

const studentSystemPromptTemplate = `You are a student with the following persona: %s. You are in a Socratic tutoring dialogue that began with: %q. Continue the conversation naturally as the student, responding to the tutor's most recent question or remark in one or two sentences. Never break character or mention that you are an AI.`

// Next builds the conversation so far (seed prompt plus recorded turns)
// and asks the student model for the next line.
func (s SimulatedStudent) Next(ctx context.Context, priorTurns []conversation.Turn, _ int) (string, error) {
	systemPrompt := fmt.Sprintf(studentSystemPromptTemplate, s.Persona, s.SeedPrompt)

	messages := make([]conversation.Message, 0, len(priorTurns)*2)
	for _, t := range priorTurns {
		messages = append(messages, t.Prompt)
		if t.Response != nil {
			// The tutor's response becomes the "user" turn from the
			// student model's perspective: it is what the student
			// model must react to next.
			messages = append(messages, conversation.NewUserMessage(t.Response.Content))
		}
	}

	result, err := s.Gateway.Generate(ctx, s.ModelID, systemPrompt, messages, gateway.Params{MaxTokens: 150})
	if err != nil {
		return "", fmt.Errorf("scenario: simulated student generation: %w", err)
	}
	return result.Text, nil
}
