package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/domain"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/elenchus-labs/tutorbench/pkg/kvstore"
	"github.com/elenchus-labs/tutorbench/pkg/objectstore"
	"github.com/elenchus-labs/tutorbench/pkg/scenario"
	"github.com/elenchus-labs/tutorbench/pkg/scoring"
)

// Runner executes one N-turn tutor/student dialogue against a selected
// model through the Model Gateway, persisting each turn and fanning out
// a judge job per turn.
type Runner struct {
	Deps
}

// NewRunner constructs a Runner over deps.
func NewRunner(deps Deps) *Runner { return &Runner{Deps: deps} }

// Handle processes one dialogue-jobs message.
func (r *Runner) Handle(ctx context.Context, job jobbus.DialogueJob) error {
	run, ok, err := r.loadRun(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("runner: load run %s: %w", job.RunID, err)
	}
	if !ok {
		return fmt.Errorf("runner: run %s not found", job.RunID)
	}
	if run.Status == domain.RunCompleted || run.Status == domain.RunRecording {
		return nil
	}

	scn, err := scenario.Get(job.ScenarioID)
	if err != nil {
		r.failRun(ctx, run, err.Error())
		return nil
	}

	run.Status = domain.RunRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = r.now()
	}
	if err := r.putRun(ctx, run); err != nil {
		return fmt.Errorf("runner: transition run %s to running: %w", run.RunID, err)
	}

	priorTurns, err := r.loadTurns(ctx, run.RunID, run.NTurnsRecorded)
	if err != nil {
		return fmt.Errorf("runner: load prior turns for run %s: %w", run.RunID, err)
	}

	for turnIndex := run.NTurnsRecorded; turnIndex < job.MaxTurns; turnIndex++ {
		studentPrompt, err := r.studentPrompt(ctx, scn, priorTurns, turnIndex)
		if err != nil {
			r.failRun(ctx, run, fmt.Sprintf("student reply policy: %v", err))
			return nil
		}

		messages := conversationMessages(priorTurns, studentPrompt)

		result, err := r.Gateway.Generate(ctx, job.ModelID, scn.Persona, messages, gateway.Params{})
		if err != nil {
			r.failRun(ctx, run, fmt.Sprintf("gateway error at turn %d: %v", turnIndex, err))
			return nil
		}

		turn := domain.Turn{
			RunID:         run.RunID,
			TurnIndex:     turnIndex,
			StudentPrompt: studentPrompt,
			AIResponse:    result.Text,
			TokensIn:      result.TokensIn,
			TokensOut:     result.TokensOut,
			LatencyMs:     result.LatencyMs,
			CreatedAt:     r.now(),
			BodyRef:       objectstore.TurnKey(run.RunID, turnIndex),
		}

		run, err = r.recordTurn(ctx, run, turn)
		if err != nil {
			return fmt.Errorf("runner: record turn %d for run %s: %w", turnIndex, run.RunID, err)
		}

		priorTurns = append(priorTurns, conversation.Turn{
			Prompt:   conversation.NewUserMessage(studentPrompt),
			Response: ptrTo(conversation.NewAssistantMessage(result.Text)),
		})
	}

	run.Status = domain.RunRecording
	if err := r.putRun(ctx, run); err != nil {
		return fmt.Errorf("runner: mark run %s recording-complete: %w", run.RunID, err)
	}
	return nil
}

// studentPrompt returns the seed prompt on turn 0, or the scenario's
// reply policy output for later turns.
func (r *Runner) studentPrompt(ctx context.Context, scn scenario.Scenario, priorTurns []conversation.Turn, turnIndex int) (string, error) {
	if turnIndex == 0 {
		return scn.SeedPrompt, nil
	}
	return scn.ReplyPolicy.Next(ctx, priorTurns, turnIndex)
}

func conversationMessages(priorTurns []conversation.Turn, currentPrompt string) []conversation.Message {
	messages := make([]conversation.Message, 0, len(priorTurns)*2+1)
	for _, t := range priorTurns {
		messages = append(messages, t.Prompt)
		if t.Response != nil {
			messages = append(messages, *t.Response)
		}
	}
	messages = append(messages, conversation.NewUserMessage(currentPrompt))
	return messages
}

// recordTurn writes the turn body, conditionally puts its pointer, and
// enqueues a judge job unless one was already enqueued by an earlier,
// partially completed attempt at this same turn. It returns the Run
// with n_turns_recorded advanced when this call actually recorded the
// turn.
func (r *Runner) recordTurn(ctx context.Context, run domain.Run, turn domain.Turn) (domain.Run, error) {
	heuristics := scoring.Heuristics(turn.AIResponse)

	body, err := json.Marshal(turnBody{Turn: turn, Heuristics: heuristics})
	if err != nil {
		return run, fmt.Errorf("marshal turn body: %w", err)
	}
	if err := r.Objects.Put(ctx, turn.BodyRef, body); err != nil {
		return run, fmt.Errorf("write turn object: %w", err)
	}

	attrs, err := attrsOf(turn)
	if err != nil {
		return run, fmt.Errorf("flatten turn: %w", err)
	}

	putErr := r.KV.PutIfAbsent(ctx, kvstore.Item{
		Partition: kvstore.PartitionRun(run.RunID),
		Sort:      kvstore.SortTurn(turn.TurnIndex),
		Attrs:     attrs,
	})

	switch {
	case putErr == nil:
		run.NTurnsRecorded = turn.TurnIndex + 1
		if err := r.putRun(ctx, run); err != nil {
			return run, fmt.Errorf("increment n_turns_recorded: %w", err)
		}
		return run, r.enqueueJudgeJob(ctx, run, turn)

	case isAlreadyApplied(putErr):
		_, judgeExists, err := r.KV.Get(ctx, kvstore.PartitionRun(run.RunID), kvstore.SortJudge(turn.TurnIndex))
		if err != nil {
			return run, fmt.Errorf("check existing judge pointer: %w", err)
		}
		if judgeExists {
			return run, nil
		}
		return run, r.enqueueJudgeJob(ctx, run, turn)

	default:
		return run, putErr
	}
}

func (r *Runner) enqueueJudgeJob(ctx context.Context, run domain.Run, turn domain.Turn) error {
	return r.JudgeQueue.Send(ctx, jobbus.JudgeJob{
		RunID:      run.RunID,
		TurnIndex:  turn.TurnIndex,
		BodyRef:    turn.BodyRef,
		JudgeModel: run.JudgeModel,
	})
}

// failRun marks run as failed, reducing n_turns_planned to the number of
// turns actually recorded so downstream compliance and discipline
// metrics are computed over the run's real extent rather than its
// original target.
func (r *Runner) failRun(ctx context.Context, run domain.Run, reason string) {
	run.Status = domain.RunFailed
	run.FailureReason = reason
	run.NTurnsPlanned = run.NTurnsRecorded
	if err := r.putRun(ctx, run); err != nil {
		slog.Error("runner: failed to persist run failure", "run_id", run.RunID, "error", err)
	}
}

func (r *Runner) loadRun(ctx context.Context, runID string) (domain.Run, bool, error) {
	item, ok, err := r.KV.Get(ctx, kvstore.PartitionRun(runID), kvstore.SortMeta)
	if err != nil || !ok {
		return domain.Run{}, ok, err
	}
	var run domain.Run
	if err := fromAttrs(item.Attrs, &run); err != nil {
		return domain.Run{}, false, err
	}
	return run, true, nil
}

func (r *Runner) putRun(ctx context.Context, run domain.Run) error {
	attrs, err := attrsOf(run)
	if err != nil {
		return err
	}
	return r.KV.Put(ctx, kvstore.Item{Partition: kvstore.PartitionRun(run.RunID), Sort: kvstore.SortMeta, Attrs: attrs})
}

// loadTurns loads the first n recorded turns of run runID, in order, as
// conversation.Turn values suitable for rebuilding message history.
func (r *Runner) loadTurns(ctx context.Context, runID string, n int) ([]conversation.Turn, error) {
	turns := make([]conversation.Turn, 0, n)
	for i := 0; i < n; i++ {
		item, ok, err := r.KV.Get(ctx, kvstore.PartitionRun(runID), kvstore.SortTurn(i))
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		var t domain.Turn
		if err := fromAttrs(item.Attrs, &t); err != nil {
			return nil, err
		}
		turns = append(turns, conversation.Turn{
			Prompt:   conversation.NewUserMessage(t.StudentPrompt),
			Response: ptrTo(conversation.NewAssistantMessage(t.AIResponse)),
		})
	}
	return turns, nil
}

func ptrTo[T any](v T) *T { return &v }

// turnBody is the full raw turn payload written to object storage.
type turnBody struct {
	domain.Turn
	Heuristics domain.Heuristics `json:"heuristics"`
}
