package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elenchus-labs/tutorbench/pkg/domain"
	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/elenchus-labs/tutorbench/pkg/kvstore"
	"github.com/elenchus-labs/tutorbench/pkg/objectstore"
)

// maxRollupMergeAttempts bounds the Curator's optimistic-concurrency
// retry loop against the weekly rollup row.
const maxRollupMergeAttempts = 10

// dimensionNames are the fixed rubric dimensions Curator averages and
// reports violation rates for.
var dimensionNames = []string{"verbosity", "exploratory", "interrogative"}

// Curator aggregates one completed Run into a RunSummary and merges
// that summary into its (week, model) WeeklyRollup.
type Curator struct {
	Deps
}

// NewCurator constructs a Curator over deps.
func NewCurator(deps Deps) *Curator { return &Curator{Deps: deps} }

// Handle processes one run-judged event.
func (c *Curator) Handle(ctx context.Context, event jobbus.RunJudgedEvent) error {
	run, ok, err := c.loadRun(ctx, event.RunID)
	if err != nil {
		return fmt.Errorf("curator: load run %s: %w", event.RunID, err)
	}
	if !ok {
		return fmt.Errorf("curator: run %s not found", event.RunID)
	}

	judges, err := c.loadJudges(ctx, run)
	if err != nil {
		return fmt.Errorf("curator: load judges for run %s: %w", run.RunID, err)
	}

	summary := summarizeRun(run, judges)

	if err := c.writeRunSummary(ctx, summary); err != nil {
		return fmt.Errorf("curator: write run summary for %s: %w", run.RunID, err)
	}

	merged, err := c.mergeWeeklyRollup(ctx, run, summary)
	if err != nil {
		return fmt.Errorf("curator: merge weekly rollup for run %s: %w", run.RunID, err)
	}

	if merged && c.Metrics != nil {
		c.Metrics.IncRunsCompleted(run.ModelID)
	}

	return nil
}

func (c *Curator) loadRun(ctx context.Context, runID string) (domain.Run, bool, error) {
	item, ok, err := c.KV.Get(ctx, kvstore.PartitionRun(runID), kvstore.SortMeta)
	if err != nil || !ok {
		return domain.Run{}, ok, err
	}
	var run domain.Run
	if err := fromAttrs(item.Attrs, &run); err != nil {
		return domain.Run{}, false, err
	}
	return run, true, nil
}

// loadJudges loads run's judge pointer rows indexed by turn_index, via a
// single range query over its partition.
func (c *Curator) loadJudges(ctx context.Context, run domain.Run) (map[int]domain.Judge, error) {
	items, err := c.KV.Query(ctx, kvstore.PartitionRun(run.RunID))
	if err != nil {
		return nil, err
	}

	judges := make(map[int]domain.Judge, run.NTurnsPlanned)
	for _, item := range items {
		if !strings.HasPrefix(item.Sort, "JUDGE#") {
			continue
		}
		var j domain.Judge
		if err := fromAttrs(item.Attrs, &j); err != nil {
			return nil, err
		}
		judges[j.TurnIndex] = j
	}
	return judges, nil
}

// summarizeRun computes the per-run aggregate per the data model's
// compliance, half-life, and violation-rate definitions. Failed-judge
// turns contribute zeroed scores but count toward n_turns_planned in
// every denominator except the violation-rate one, which only considers
// turns a judge actually scored.
func summarizeRun(run domain.Run, judges map[int]domain.Judge) domain.RunSummary {
	n := run.NTurnsPlanned
	summary := domain.RunSummary{
		RunID:          run.RunID,
		MeanDimensions: make(map[string]float64, len(dimensionNames)),
		ViolationRates: map[string]float64{"has_advice": 0, "is_leading": 0},
		HalfLife:       n,
	}
	if n == 0 {
		return summary
	}

	dimensionSums := make(map[string]float64, len(dimensionNames))
	var overallSum float64
	var compliantCount int
	halfLifeSet := false

	var scoredTurns int
	violationCounts := map[string]int{"has_advice": 0, "is_leading": 0}

	for turnIndex := 0; turnIndex < n; turnIndex++ {
		judge, ok := judges[turnIndex]
		overall := 0.0
		if ok && !judge.Failed {
			overall = judge.Scores.Overall
			dimensionSums["verbosity"] += judge.Scores.Verbosity
			dimensionSums["exploratory"] += judge.Scores.Exploratory
			dimensionSums["interrogative"] += judge.Scores.Interrogative

			scoredTurns++
			if judge.Heuristics.HasAdvice {
				violationCounts["has_advice"]++
			}
			if judge.Heuristics.IsLeading {
				violationCounts["is_leading"]++
			}
		}

		overallSum += overall
		if overall >= run.ComplianceThreshold {
			compliantCount++
		}
		if !halfLifeSet && overall < run.DisciplineThreshold {
			summary.HalfLife = turnIndex
			halfLifeSet = true
		}
	}

	summary.MeanOverall = overallSum / float64(n)
	summary.ComplianceRate = float64(compliantCount) / float64(n)
	for _, dim := range dimensionNames {
		summary.MeanDimensions[dim] = dimensionSums[dim] / float64(n)
	}
	if scoredTurns > 0 {
		for flag, count := range violationCounts {
			summary.ViolationRates[flag] = float64(count) / float64(scoredTurns)
		}
	}

	return summary
}

func (c *Curator) writeRunSummary(ctx context.Context, summary domain.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if err := c.Objects.Put(ctx, objectstore.CuratedRunKey(summary.RunID), body); err != nil {
		return fmt.Errorf("write curated run object: %w", err)
	}

	attrs, err := attrsOf(summary)
	if err != nil {
		return fmt.Errorf("flatten run summary: %w", err)
	}
	return c.KV.Put(ctx, kvstore.Item{
		Partition: kvstore.PartitionRun(summary.RunID),
		Sort:      kvstore.SortSummary,
		Attrs:     attrs,
	})
}

// mergeWeeklyRollup folds summary into its (week, model_id) rollup under
// an optimistic-concurrency retry loop: read the row's version, merge,
// write conditioned on that version, retry from the top on conflict. A
// run already present in the rollup's contributing set is a no-op,
// making the merge idempotent under at-least-once event delivery.
// mergeWeeklyRollup returns merged=true only when this call actually
// folded run into the rollup, as opposed to finding it already present
// (a retry of an event already processed).
func (c *Curator) mergeWeeklyRollup(ctx context.Context, run domain.Run, summary domain.RunSummary) (bool, error) {
	for attempt := 0; attempt < maxRollupMergeAttempts; attempt++ {
		rollup, version, err := c.loadWeeklyRollup(ctx, run.Week, run.ModelID)
		if err != nil {
			return false, err
		}
		if rollup.ContainsRun(run.RunID) {
			return false, nil
		}

		merged := mergeRollup(rollup, run, summary)
		merged.Version = version + 1

		attrs, err := attrsOf(merged)
		if err != nil {
			return false, fmt.Errorf("flatten weekly rollup: %w", err)
		}

		err = c.KV.PutIfVersion(ctx, kvstore.Item{
			Partition: kvstore.PartitionWeekModel(run.Week, run.ModelID),
			Sort:      kvstore.SortSummary,
			Attrs:     attrs,
		}, version)
		if err != nil {
			if isAlreadyApplied(err) {
				continue
			}
			return false, err
		}

		body, err := json.Marshal(merged)
		if err != nil {
			return false, fmt.Errorf("marshal weekly rollup: %w", err)
		}
		if err := c.Objects.Put(ctx, objectstore.CuratedWeeklyKey(run.Week, run.ModelID), body); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, fmt.Errorf("weekly rollup for week %s model %s: exceeded %d merge attempts", run.Week, run.ModelID, maxRollupMergeAttempts)
}

func (c *Curator) loadWeeklyRollup(ctx context.Context, week, modelID string) (domain.WeeklyRollup, int, error) {
	item, ok, err := c.KV.Get(ctx, kvstore.PartitionWeekModel(week, modelID), kvstore.SortSummary)
	if err != nil {
		return domain.WeeklyRollup{}, 0, err
	}
	if !ok {
		return domain.WeeklyRollup{Week: week, ModelID: modelID, MeanDimensions: map[string]float64{}, ViolationRates: map[string]float64{}}, 0, nil
	}
	var rollup domain.WeeklyRollup
	if err := fromAttrs(item.Attrs, &rollup); err != nil {
		return domain.WeeklyRollup{}, 0, err
	}
	return rollup, rollup.Version, nil
}

// mergeRollup folds one run's summary into the running rollup using an
// incremental-mean update, so the rollup never needs to re-read every
// contributing run's summary.
func mergeRollup(rollup domain.WeeklyRollup, run domain.Run, summary domain.RunSummary) domain.WeeklyRollup {
	if rollup.MeanDimensions == nil {
		rollup.MeanDimensions = make(map[string]float64, len(dimensionNames))
	}
	if rollup.ViolationRates == nil {
		rollup.ViolationRates = make(map[string]float64, 2)
	}

	newCount := rollup.RunCount + 1
	rollup.MeanOverall = incrementalMean(rollup.MeanOverall, rollup.RunCount, summary.MeanOverall, newCount)
	rollup.MeanCompliance = incrementalMean(rollup.MeanCompliance, rollup.RunCount, summary.ComplianceRate, newCount)
	rollup.MeanHalfLife = incrementalMean(rollup.MeanHalfLife, rollup.RunCount, float64(summary.HalfLife), newCount)
	for _, dim := range dimensionNames {
		rollup.MeanDimensions[dim] = incrementalMean(rollup.MeanDimensions[dim], rollup.RunCount, summary.MeanDimensions[dim], newCount)
	}
	for flag, rate := range summary.ViolationRates {
		rollup.ViolationRates[flag] = incrementalMean(rollup.ViolationRates[flag], rollup.RunCount, rate, newCount)
	}

	rollup.RunCount = newCount
	rollup.TurnCount += run.NTurnsPlanned
	rollup.ContributingIDs = append(rollup.ContributingIDs, run.RunID)
	rollup.Week = run.Week
	rollup.ModelID = run.ModelID
	return rollup
}

func incrementalMean(oldMean float64, oldCount int, newValue float64, newCount int) float64 {
	if newCount == 0 {
		return 0
	}
	return oldMean + (newValue-oldMean)/float64(newCount)
}
