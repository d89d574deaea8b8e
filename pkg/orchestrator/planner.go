package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/elenchus-labs/tutorbench/pkg/domain"
	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/elenchus-labs/tutorbench/pkg/kvstore"
	"github.com/elenchus-labs/tutorbench/pkg/manifest"
	"github.com/elenchus-labs/tutorbench/pkg/objectstore"
)

// Planner materializes a frozen weekly run manifest and fans out one
// dialogue job per (model, scenario) pair.
type Planner struct {
	Deps
}

// NewPlanner constructs a Planner over deps.
func NewPlanner(deps Deps) *Planner { return &Planner{Deps: deps} }

// Plan runs the Planner's full action for one (cfg, week) pair. It is
// safe to call any number of times with the same arguments: the
// Manifest row itself is written at most once, but the fan-out loop
// below always runs regardless of whether the Manifest already
// existed, because planRun's own per-Run conditional put is what makes
// fan-out idempotent. A call that crashes partway through fan-out — or
// is racing another caller's Plan for the same (cfg, week) — leaves
// some Run items and dialogue jobs missing; short-circuiting on
// "Manifest already exists" would leave them missing forever, so every
// call walks the full (model, scenario) product and lets planRun's
// conditional put decide, per pair, whether there is anything left to
// do.
func (p *Planner) Plan(ctx context.Context, cfg manifest.Config, week string) error {
	cfg = cfg.WithDefaults()

	manifestID, err := manifest.ManifestID(cfg, week)
	if err != nil {
		return fmt.Errorf("planner: compute manifest id: %w", err)
	}

	m := manifest.New(manifestID, cfg, week, p.now())

	attrs, err := attrsOf(m)
	if err != nil {
		return fmt.Errorf("planner: flatten manifest: %w", err)
	}

	err = p.KV.PutIfAbsent(ctx, kvstore.Item{
		Partition: kvstore.PartitionManifest(manifestID),
		Sort:      kvstore.SortMeta,
		Attrs:     attrs,
	})
	switch {
	case err == nil:
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("planner: marshal manifest: %w", err)
		}
		if err := p.Objects.Put(ctx, objectstore.ManifestKey(manifestID), body); err != nil {
			return fmt.Errorf("planner: write manifest object: %w", err)
		}
	case isAlreadyApplied(err):
		slog.Info("planner: manifest already planned, resuming fan-out in case a prior attempt left runs unplanned", "manifest_id", manifestID, "week", week)
	default:
		return fmt.Errorf("planner: put manifest: %w", err)
	}

	for _, model := range cfg.Models {
		for _, scenarioID := range cfg.Scenarios {
			if err := p.planRun(ctx, manifestID, week, model.ModelID, scenarioID, cfg.Parameters); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Planner) planRun(ctx context.Context, manifestID, week, modelID, scenarioID string, params manifest.Parameters) error {
	runID := manifest.RunID(manifestID, modelID, scenarioID)

	run := domain.Run{
		RunID:               runID,
		ManifestID:          manifestID,
		ModelID:             modelID,
		ScenarioID:          scenarioID,
		Week:                week,
		Status:              domain.RunQueued,
		NTurnsPlanned:       params.MaxTurns,
		JudgeModel:          params.JudgeModel,
		ComplianceThreshold: params.ComplianceThreshold,
		DisciplineThreshold: params.DisciplineThreshold,
	}

	// A zero-turn run has nothing for the Runner or Judge to do: it is
	// planned directly into its judged-and-completed terminal state, and
	// the Curator is notified the same way any other completed run is.
	now := p.now()
	if params.MaxTurns == 0 {
		run.Status = domain.RunCompleted
		run.JudgedAt = now
	}

	attrs, err := attrsOf(run)
	if err != nil {
		return fmt.Errorf("planner: flatten run %s: %w", runID, err)
	}

	err = p.KV.PutIfAbsent(ctx, kvstore.Item{
		Partition: kvstore.PartitionRun(runID),
		Sort:      kvstore.SortMeta,
		Attrs:     attrs,
	})
	if err != nil {
		if isAlreadyApplied(err) {
			return nil
		}
		return fmt.Errorf("planner: put run %s: %w", runID, err)
	}

	if params.MaxTurns == 0 {
		return p.RunJudgedBus.Publish(ctx, jobbus.RunJudgedEvent{
			RunID:      runID,
			ManifestID: manifestID,
			ModelID:    modelID,
			Week:       week,
			JudgedAt:   now,
		})
	}

	job := jobbus.DialogueJob{
		RunID:      runID,
		ManifestID: manifestID,
		ModelID:    modelID,
		ScenarioID: scenarioID,
		MaxTurns:   params.MaxTurns,
	}
	if err := p.DialogueQueue.Send(ctx, job); err != nil {
		return fmt.Errorf("planner: enqueue dialogue job for run %s: %w", runID, err)
	}

	return nil
}
