package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elenchus-labs/tutorbench/pkg/domain"
	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/elenchus-labs/tutorbench/pkg/kvstore"
	"github.com/elenchus-labs/tutorbench/pkg/objectstore"
	"github.com/elenchus-labs/tutorbench/pkg/pipelineerr"
	"github.com/elenchus-labs/tutorbench/pkg/scoring"
)

// Judge scores one recorded turn and, when its conditional counter
// update brings a run's judged-turn count to its planned total, fires
// the run's sole run-judged event.
type Judge struct {
	Deps
}

// NewJudge constructs a Judge over deps.
func NewJudge(deps Deps) *Judge { return &Judge{Deps: deps} }

// Handle processes one judge-jobs message. Its idempotent entry point is
// not "does a JUDGE row exist" but "does a *scored* JUDGE row exist": a
// sentinel row with Scored = false means a prior attempt crashed
// somewhere between claiming the turn and committing completion, and
// this delivery must resume scoring rather than ack a half-done turn.
func (j *Judge) Handle(ctx context.Context, job jobbus.JudgeJob) error {
	sentinel := domain.Judge{
		RunID:      job.RunID,
		TurnIndex:  job.TurnIndex,
		JudgeModel: job.JudgeModel,
		BodyRef:    objectstore.JudgeKey(job.RunID, job.TurnIndex),
		CreatedAt:  j.now(),
	}
	attrs, err := attrsOf(sentinel)
	if err != nil {
		return fmt.Errorf("judge: flatten sentinel: %w", err)
	}

	putErr := j.KV.PutIfAbsent(ctx, kvstore.Item{
		Partition: kvstore.PartitionRun(job.RunID),
		Sort:      kvstore.SortJudge(job.TurnIndex),
		Attrs:     attrs,
	})
	switch {
	case putErr == nil:
		return j.score(ctx, job, sentinel)

	case isAlreadyApplied(putErr):
		existing, ok, err := j.KV.Get(ctx, kvstore.PartitionRun(job.RunID), kvstore.SortJudge(job.TurnIndex))
		if err != nil {
			return fmt.Errorf("judge: load existing judge row for run %s turn %d: %w", job.RunID, job.TurnIndex, err)
		}
		if !ok {
			return fmt.Errorf("judge: judge row for run %s turn %d vanished after conflict", job.RunID, job.TurnIndex)
		}
		var row domain.Judge
		if err := fromAttrs(existing.Attrs, &row); err != nil {
			return fmt.Errorf("judge: decode existing judge row for run %s turn %d: %w", job.RunID, job.TurnIndex, err)
		}
		if row.Scored {
			// Fully scored already; only the completion commit might
			// not have landed (e.g. a crash between the Put of the
			// scored row and commitCompletion). UpdateCounter's own
			// conditional increment makes re-running this a no-op if
			// it already happened.
			return j.commitCompletion(ctx, job.RunID)
		}
		return j.score(ctx, job, row)

	default:
		return fmt.Errorf("judge: put sentinel for run %s turn %d: %w", job.RunID, job.TurnIndex, putErr)
	}
}

// score runs the rubric over the turn named by job and persists the
// final scored Judge row in place of sentinel, then commits completion.
// sentinel is whichever row already exists in the kv-store for this
// turn — freshly written by this call, or inherited from a prior
// attempt that claimed the turn but never finished scoring it.
func (j *Judge) score(ctx context.Context, job jobbus.JudgeJob, sentinel domain.Judge) error {
	rawBody, ok, err := j.Objects.Get(ctx, job.BodyRef)
	if err != nil {
		return fmt.Errorf("judge: load turn body %s: %w", job.BodyRef, err)
	}
	if !ok {
		return fmt.Errorf("judge: turn body %s not found", job.BodyRef)
	}
	var tb turnBody
	if err := json.Unmarshal(rawBody, &tb); err != nil {
		return fmt.Errorf("judge: decode turn body %s: %w", job.BodyRef, err)
	}

	heuristics := scoring.Heuristics(tb.AIResponse)

	scores, rationale, err := scoring.Rubric(ctx, j.Gateway, job.JudgeModel, tb.StudentPrompt, tb.AIResponse)
	failed := false
	if err != nil {
		if !errors.Is(err, pipelineerr.ErrJudgeParse) {
			return fmt.Errorf("judge: invoke judge model for run %s turn %d: %w", job.RunID, job.TurnIndex, err)
		}
		failed = true
		rationale = err.Error()
		scores = domain.RubricScores{}
		if j.Metrics != nil {
			j.Metrics.IncJudgeParseFailures()
		}
	}

	result := domain.Judge{
		RunID:      job.RunID,
		TurnIndex:  job.TurnIndex,
		Scores:     scores,
		Heuristics: heuristics,
		Rationale:  rationale,
		JudgeModel: job.JudgeModel,
		Failed:     failed,
		Scored:     true,
		BodyRef:    sentinel.BodyRef,
		CreatedAt:  sentinel.CreatedAt,
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("judge: marshal judge payload: %w", err)
	}
	if err := j.Objects.Put(ctx, result.BodyRef, body); err != nil {
		return fmt.Errorf("judge: write judge object: %w", err)
	}

	resultAttrs, err := attrsOf(result)
	if err != nil {
		return fmt.Errorf("judge: flatten judge result: %w", err)
	}
	if err := j.KV.Put(ctx, kvstore.Item{
		Partition: kvstore.PartitionRun(job.RunID),
		Sort:      kvstore.SortJudge(job.TurnIndex),
		Attrs:     resultAttrs,
	}); err != nil {
		return fmt.Errorf("judge: update judge pointer: %w", err)
	}

	return j.commitCompletion(ctx, job.RunID)
}

// commitCompletion performs the atomic n_turns_judged increment and, if
// this specific call's increment brings the run to n_turns_planned,
// publishes the run's sole run-judged event. Racing judges for other
// turns of the same run may run this concurrently; only the call whose
// UpdateCounter actually reaches the ceiling ever publishes.
func (j *Judge) commitCompletion(ctx context.Context, runID string) error {
	run, ok, err := j.loadRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("judge: load run %s for completion commit: %w", runID, err)
	}
	if !ok {
		return fmt.Errorf("judge: run %s not found for completion commit", runID)
	}

	judgedAt := j.now()
	_, reachedCeiling, err := j.KV.UpdateCounter(ctx, kvstore.PartitionRun(runID), kvstore.SortMeta, "n_turns_judged", 1, run.NTurnsPlanned, map[string]any{
		"status":    string(domain.RunCompleted),
		"judged_at": judgedAt,
	})
	if err != nil {
		if isAlreadyApplied(err) {
			return nil
		}
		return fmt.Errorf("judge: increment n_turns_judged for run %s: %w", runID, err)
	}
	if !reachedCeiling {
		return nil
	}

	return j.RunJudgedBus.Publish(ctx, jobbus.RunJudgedEvent{
		RunID:      runID,
		ManifestID: run.ManifestID,
		ModelID:    run.ModelID,
		Week:       run.Week,
		JudgedAt:   judgedAt,
	})
}

func (j *Judge) loadRun(ctx context.Context, runID string) (domain.Run, bool, error) {
	item, ok, err := j.KV.Get(ctx, kvstore.PartitionRun(runID), kvstore.SortMeta)
	if err != nil || !ok {
		return domain.Run{}, ok, err
	}
	var run domain.Run
	if err := fromAttrs(item.Attrs, &run); err != nil {
		return domain.Run{}, false, err
	}
	return run, true, nil
}
