// Package domain defines the pipeline's core entities — Run, Turn, Judge,
// RunSummary, and WeeklyRollup — and the invariants that bind them. These
// types are storage-agnostic: pkg/kvstore and pkg/objectstore serialize
// and key them, but domain itself has no I/O.
package domain

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunRecording RunStatus = "completed-recording"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one dialogue of one model against one scenario under one manifest.
type Run struct {
	RunID          string    `json:"run_id"`
	ManifestID     string    `json:"manifest_id"`
	ModelID        string    `json:"model_id"`
	ScenarioID     string    `json:"scenario_id"`
	Week           string    `json:"week"`
	Status         RunStatus `json:"status"`
	NTurnsPlanned  int       `json:"n_turns_planned"`
	NTurnsRecorded int       `json:"n_turns_recorded"`
	NTurnsJudged   int       `json:"n_turns_judged"`
	JudgeModel     string    `json:"judge_model"`

	// ComplianceThreshold and DisciplineThreshold are copied from the
	// manifest's parameters at plan time, so Curator can compute this
	// Run's summary without a second read of the manifest.
	ComplianceThreshold float64 `json:"compliance_threshold"`
	DisciplineThreshold float64 `json:"discipline_threshold"`

	FailureReason string    `json:"failure_reason,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	JudgedAt      time.Time `json:"judged_at,omitempty"`
}

// Valid reports whether the Run's counters respect
// n_turns_judged <= n_turns_recorded <= n_turns_planned and whether the
// completed status implies a judged_at timestamp.
func (r Run) Valid() bool {
	if !(r.NTurnsJudged <= r.NTurnsRecorded && r.NTurnsRecorded <= r.NTurnsPlanned) {
		return false
	}
	if r.Status == RunCompleted && r.JudgedAt.IsZero() {
		return false
	}
	return true
}

// Heuristics are the pure, deterministic flags computed from an
// ai_response string by the Scoring Engine's heuristic layer.
type Heuristics struct {
	HasQuestion   bool `json:"has_question"`
	QuestionCount int  `json:"question_count"`
	OpenEnded     bool `json:"open_ended"`
	HasAdvice     bool `json:"has_advice"`
	IsLeading     bool `json:"is_leading"`
	ApproxTokens  int  `json:"approx_tokens"`
}

// Turn is one tutor response plus its preceding student prompt.
type Turn struct {
	RunID         string    `json:"run_id"`
	TurnIndex     int       `json:"turn_index"`
	StudentPrompt string    `json:"student_prompt"`
	AIResponse    string    `json:"ai_response"`
	TokensIn      int       `json:"tokens_in"`
	TokensOut     int       `json:"tokens_out"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
	BodyRef       string    `json:"body_ref"`
}

// RubricScores is the three-dimension judge rubric, each dimension and
// Overall bounded to [0,1].
type RubricScores struct {
	Verbosity     float64 `json:"verbosity"`
	Exploratory   float64 `json:"exploratory"`
	Interrogative float64 `json:"interrogative"`
	Overall       float64 `json:"overall"`
}

// Judge is the rubric scores and heuristic flags computed for one Turn.
// Scored distinguishes a fully-scored row from the sentinel row the
// Judge handler writes first to claim the turn: a sentinel has
// Scored = false until the handler finishes rubric scoring and
// overwrites it, so a handler that crashes mid-score leaves a row
// behind that a redelivered message can recognize as unfinished and
// resume, rather than a row a replay can mistake for "already done".
type Judge struct {
	RunID      string       `json:"run_id"`
	TurnIndex  int          `json:"turn_index"`
	Scores     RubricScores `json:"scores"`
	Heuristics Heuristics   `json:"heuristics"`
	Rationale  string       `json:"rationale"`
	JudgeModel string       `json:"judge_model"`
	Failed     bool         `json:"failed"`
	Scored     bool         `json:"scored"`
	BodyRef    string       `json:"body_ref"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RunSummary is the aggregated metrics for one Run, computed by Curator.
type RunSummary struct {
	RunID          string             `json:"run_id"`
	MeanOverall    float64            `json:"mean_overall"`
	MeanDimensions map[string]float64 `json:"mean_dimensions"`
	ComplianceRate float64            `json:"compliance_rate"`
	HalfLife       int                `json:"half_life"`
	ViolationRates map[string]float64 `json:"violation_rates"`
}

// WeeklyRollup is the aggregate over all completed Runs sharing a
// (week, model_id) bucket.
type WeeklyRollup struct {
	Week            string             `json:"week"`
	ModelID         string             `json:"model_id"`
	RunCount        int                `json:"run_count"`
	TurnCount       int                `json:"turn_count"`
	MeanOverall     float64            `json:"mean_overall"`
	MeanCompliance  float64            `json:"mean_compliance_rate"`
	MeanHalfLife    float64            `json:"mean_half_life"`
	MeanDimensions  map[string]float64 `json:"mean_dimensions"`
	ViolationRates  map[string]float64 `json:"violation_rates"`
	ContributingIDs []string           `json:"contributing_run_ids"`
	Version         int                `json:"version"`
}

// ContainsRun reports whether runID already contributed to this rollup,
// used by Curator's idempotent merge.
func (w WeeklyRollup) ContainsRun(runID string) bool {
	for _, id := range w.ContributingIDs {
		if id == runID {
			return true
		}
	}
	return false
}
