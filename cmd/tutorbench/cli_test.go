package main

import (
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elenchus-labs/tutorbench/pkg/config"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/pipelineerr"
)

func newTestParser(t *testing.T, cli any) *kong.Kong {
	t.Helper()
	parser, err := kong.New(cli, kong.Name("tutorbench"), kong.Exit(func(int) {}))
	require.NoError(t, err)
	return parser
}

func TestCLIStructParsing(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
	}{
		{name: "version command", args: []string{"version"}},
		{name: "plan requires week", args: []string{"plan"}, expectError: true},
		{name: "plan with week", args: []string{"plan", "2026-W31"}},
		{name: "queue defaults to all", args: []string{"queue"}},
		{name: "queue rejects unknown name", args: []string{"queue", "not-a-queue"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cli struct {
				Globals
				Plan    PlanCmd    `cmd:""`
				Queue   QueueCmd   `cmd:""`
				Version VersionCmd `cmd:""`
			}
			parser := newTestParser(t, &cli)

			_, err := parser.Parse(tt.args)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunDialogueCmdRequiresModelAndPrompt(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
	}{
		{name: "missing both", args: []string{"run-dialogue"}, expectError: true},
		{name: "missing prompt", args: []string{"run-dialogue", "--model", "tutor-1"}, expectError: true},
		{name: "model and prompt present", args: []string{"run-dialogue", "--model", "tutor-1", "--prompt", "explain recursion"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cli struct {
				RunDialogue RunDialogueCmd `cmd:""`
			}
			parser := newTestParser(t, &cli)

			_, err := parser.Parse(tt.args)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, 1, cli.RunDialogue.Turns, "default turn count")
			}
		})
	}
}

func TestRunJudgeCmdRequiresAllFlags(t *testing.T) {
	var cli struct {
		RunJudge RunJudgeCmd `cmd:"" name:"run-judge"`
	}
	parser := newTestParser(t, &cli)

	_, err := parser.Parse([]string{"run-judge", "--run-id", "r-1"})
	assert.Error(t, err, "missing --turn, --judge-model, --body-ref should fail")

	_, err = parser.Parse([]string{
		"run-judge",
		"--run-id", "r-1",
		"--turn", "0",
		"--judge-model", "judge-1",
		"--body-ref", "raw/runs/r-1/turn_000.json",
	})
	assert.NoError(t, err)
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil error", err: nil, want: 0},
		{name: "unknown model is validation error", err: pipelineerr.ErrUnknownModel, want: 2},
		{name: "scenario not found is validation error", err: pipelineerr.ErrScenarioNotFound, want: 2},
		{name: "transient gateway is model error", err: pipelineerr.ErrTransientGateway, want: 3},
		{name: "run failure is model error", err: pipelineerr.ErrRunFailure, want: 3},
		{name: "persistence unavailable is persistence error", err: pipelineerr.ErrPersistUnavail, want: 4},
		{name: "persistence conflict is persistence error", err: pipelineerr.ErrPersistConflict, want: 4},
		{name: "unclassified error falls back to 1", err: assertErr("boom"), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestToGatewayModels(t *testing.T) {
	models := []config.ModelConfig{
		{ModelID: "tutor-1", Provider: "openai", APIKey: "key-1", Temperature: 0.7, MaxTokens: 512},
		{ModelID: "tutor-2", Provider: "bedrock", RateLimit: 2.5},
	}

	out := toGatewayModels(models, "us-east-1")

	require.Len(t, out, 2)
	assert.Equal(t, gateway.ModelConfig{
		ModelID:     "tutor-1",
		Provider:    "openai",
		APIKey:      "key-1",
		Region:      "us-east-1",
		Temperature: 0.7,
		MaxTokens:   512,
	}, out[0])
	assert.Equal(t, "us-east-1", out[1].Region)
	assert.Equal(t, 2.5, out[1].RateLimit)
}
