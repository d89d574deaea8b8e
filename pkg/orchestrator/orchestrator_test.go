package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/elenchus-labs/tutorbench/pkg/conversation"
	"github.com/elenchus-labs/tutorbench/pkg/domain"
	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/elenchus-labs/tutorbench/pkg/kvstore"
	"github.com/elenchus-labs/tutorbench/pkg/manifest"
	"github.com/elenchus-labs/tutorbench/pkg/objectstore"
	"github.com/elenchus-labs/tutorbench/pkg/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tutorAdapter always answers with a fixed, well-formed tutor response.
type tutorAdapter struct{ response string }

func (a *tutorAdapter) Generate(_ context.Context, _ string, _ []conversation.Message, _ gateway.Params) (gateway.Result, error) {
	return gateway.Result{Text: a.response, TokensIn: 12, TokensOut: 8, LatencyMs: 50}, nil
}

// judgeAdapter always answers with a fixed, well-formed rubric JSON body.
type judgeAdapter struct{}

func (judgeAdapter) Generate(_ context.Context, _ string, _ []conversation.Message, _ gateway.Params) (gateway.Result, error) {
	return gateway.Result{Text: `{"verbosity":0.8,"exploratory":0.6,"interrogative":0.9,"rationale":"concise and exploratory"}`}, nil
}

// malformedJudgeAdapter answers with text that fails rubric parsing.
type malformedJudgeAdapter struct{}

func (malformedJudgeAdapter) Generate(_ context.Context, _ string, _ []conversation.Message, _ gateway.Params) (gateway.Result, error) {
	return gateway.Result{Text: "not json at all"}, nil
}

var providerSeq int
var providerSeqMu sync.Mutex

// uniqueProvider returns a fresh provider name so concurrently running
// tests never collide in the gateway's global provider registry.
func uniqueProvider(prefix string) string {
	providerSeqMu.Lock()
	defer providerSeqMu.Unlock()
	providerSeq++
	return fmt.Sprintf("%s-%d", prefix, providerSeq)
}

type testHarness struct {
	deps     orchestrator.Deps
	kv       *kvstore.Memory
	objects  *objectstore.Memory
	dialogue *jobbus.MemoryQueue[jobbus.DialogueJob]
	judges   *jobbus.MemoryQueue[jobbus.JudgeJob]
	events   *jobbus.MemoryQueue[jobbus.RunJudgedEvent]
	clock    time.Time
}

func newHarness(t *testing.T, tutorModel, judgeModel string, tutorGW gateway.Adapter, judgeGW gateway.Adapter) *testHarness {
	t.Helper()

	tutorProvider := uniqueProvider("tutor")
	judgeProvider := uniqueProvider("judge")
	gateway.RegisterProvider(tutorProvider, func(gateway.ModelConfig) (gateway.Adapter, error) { return tutorGW, nil })
	gateway.RegisterProvider(judgeProvider, func(gateway.ModelConfig) (gateway.Adapter, error) { return judgeGW, nil })

	gw, err := gateway.New([]gateway.ModelConfig{
		{ModelID: tutorModel, Provider: tutorProvider},
		{ModelID: judgeModel, Provider: judgeProvider},
	})
	require.NoError(t, err)

	h := &testHarness{
		kv:       kvstore.NewMemory(),
		objects:  objectstore.NewMemory(),
		dialogue: jobbus.NewMemoryQueue[jobbus.DialogueJob](),
		judges:   jobbus.NewMemoryQueue[jobbus.JudgeJob](),
		events:   jobbus.NewMemoryQueue[jobbus.RunJudgedEvent](),
		clock:    time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC),
	}
	h.deps = orchestrator.Deps{
		KV:            h.kv,
		Objects:       h.objects,
		Gateway:       gw,
		DialogueQueue: h.dialogue,
		JudgeQueue:    h.judges,
		RunJudgedBus:  h.events,
		Now:           func() time.Time { return h.clock },
	}
	return h
}

// drain pulls every currently pending message from q and applies fn to
// each, deleting it only on success, mirroring Dispatch's single-attempt
// per call contract without needing a live poll loop.
func drain[T any](t *testing.T, ctx context.Context, q jobbus.Queue[T], fn func(T) error) {
	t.Helper()
	for {
		msgs, err := q.Receive(ctx, 1, 0)
		require.NoError(t, err)
		if len(msgs) == 0 {
			return
		}
		if err := fn(msgs[0].Body); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		require.NoError(t, q.Delete(ctx, msgs[0].ReceiptHandle))
	}
}

func testConfig(maxTurns int) manifest.Config {
	return manifest.Config{
		Models:    []manifest.ModelEntry{{ModelID: "tutor-1", Provider: "irrelevant"}},
		Scenarios: []string{"EL-ETH-TROLLEY-02"},
		Parameters: manifest.Parameters{
			MaxTurns:   maxTurns,
			JudgeModel: "judge-1",
		},
	}
}

func TestPipeline_HappyPath(t *testing.T) {
	h := newHarness(t, "tutor-1", "judge-1", &tutorAdapter{response: "What makes you confident those two lives are equivalent?"}, judgeAdapter{})
	ctx := context.Background()

	planner := orchestrator.NewPlanner(h.deps)
	runner := orchestrator.NewRunner(h.deps)
	judge := orchestrator.NewJudge(h.deps)
	curator := orchestrator.NewCurator(h.deps)

	cfg := testConfig(2)
	require.NoError(t, planner.Plan(ctx, cfg, "2026-W31"))

	drain(t, ctx, h.dialogue, func(job jobbus.DialogueJob) error { return runner.Handle(ctx, job) })
	drain(t, ctx, h.judges, func(job jobbus.JudgeJob) error { return judge.Handle(ctx, job) })
	drain(t, ctx, h.events, func(ev jobbus.RunJudgedEvent) error { return curator.Handle(ctx, ev) })

	runID := manifestRunID(t, ctx, h, cfg, "2026-W31")
	run := loadRun(t, ctx, h, runID)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 2, run.NTurnsRecorded)
	assert.Equal(t, 2, run.NTurnsJudged)

	summaryItem, ok, err := h.kv.Get(ctx, kvstore.PartitionRun(runID), kvstore.SortSummary)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, (0.8+0.6+0.9)/3, summaryItem.Attrs["mean_overall"], 1e-9)
	assert.Equal(t, float64(1), summaryItem.Attrs["compliance_rate"])

	rollupItem, ok, err := h.kv.Get(ctx, kvstore.PartitionWeekModel("2026-W31", "tutor-1"), kvstore.SortSummary)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(1), rollupItem.Attrs["run_count"])
}

func TestPlanner_ReplayIsIdempotent(t *testing.T) {
	h := newHarness(t, "tutor-1", "judge-1", &tutorAdapter{response: "Why do you think so?"}, judgeAdapter{})
	ctx := context.Background()
	planner := orchestrator.NewPlanner(h.deps)
	cfg := testConfig(1)

	for i := 0; i < 5; i++ {
		require.NoError(t, planner.Plan(ctx, cfg, "2026-W31"))
	}

	assert.Equal(t, 1, h.dialogue.Len(), "five identical plans must enqueue exactly one dialogue job")
}

// TestPlanner_ResumesFanOutAfterCrashBeforeAllRunsPlanned simulates a
// Plan call that crashed after committing the Manifest row but before
// planning every (model, scenario) Run — the Manifest conditional put
// already "succeeded" once, so a naive replay that short-circuits on
// "Manifest exists" would leave the missing Run permanently unplanned.
// A retry must still walk the full fan-out and fill in what is missing.
func TestPlanner_ResumesFanOutAfterCrashBeforeAllRunsPlanned(t *testing.T) {
	h := newHarness(t, "tutor-1", "judge-1", &tutorAdapter{response: "Why do you think so?"}, judgeAdapter{})
	ctx := context.Background()
	planner := orchestrator.NewPlanner(h.deps)

	cfg := manifest.Config{
		Models: []manifest.ModelEntry{
			{ModelID: "tutor-1", Provider: "irrelevant"},
			{ModelID: "tutor-2", Provider: "irrelevant"},
		},
		Scenarios: []string{"EL-ETH-TROLLEY-02", "EL-ETH-TROLLEY-03"},
		Parameters: manifest.Parameters{
			MaxTurns:   1,
			JudgeModel: "judge-1",
		},
	}.WithDefaults()

	manifestID, err := manifest.ManifestID(cfg, "2026-W31")
	require.NoError(t, err)
	m := manifest.New(manifestID, cfg, "2026-W31", h.clock)
	require.NoError(t, h.kv.Put(ctx, kvstore.Item{
		Partition: kvstore.PartitionManifest(manifestID),
		Sort:      kvstore.SortMeta,
		Attrs:     attrsForTest(t, m),
	}))

	require.NoError(t, planner.Plan(ctx, cfg, "2026-W31"))

	assert.Equal(t, 4, h.dialogue.Len(), "all 2x2 (model, scenario) runs must be planned even though the Manifest row pre-existed")
}

func TestJudge_RetryStormCommitsExactlyOnce(t *testing.T) {
	h := newHarness(t, "tutor-1", "judge-1", &tutorAdapter{response: "Say more about that."}, judgeAdapter{})
	ctx := context.Background()

	planner := orchestrator.NewPlanner(h.deps)
	runner := orchestrator.NewRunner(h.deps)
	judge := orchestrator.NewJudge(h.deps)

	cfg := testConfig(1)
	require.NoError(t, planner.Plan(ctx, cfg, "2026-W31"))
	drain(t, ctx, h.dialogue, func(job jobbus.DialogueJob) error { return runner.Handle(ctx, job) })

	msgs, err := h.judges.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	job := msgs[0].Body

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = judge.Handle(ctx, job)
		}()
	}
	wg.Wait()

	runID := job.RunID
	run := loadRun(t, ctx, h, runID)
	assert.Equal(t, 1, run.NTurnsJudged)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 1, h.events.Len(), "exactly one run-judged event must be published despite 10 concurrent deliveries")

	items, err := h.kv.Query(ctx, kvstore.PartitionRun(runID))
	require.NoError(t, err)
	judgeRows := 0
	for _, item := range items {
		if item.Sort == kvstore.SortJudge(0) {
			judgeRows++
		}
	}
	assert.Equal(t, 1, judgeRows)
}

func TestRunner_PartialFailureMarksRunFailed(t *testing.T) {
	h := newHarness(t, "tutor-1", "judge-1", &failingAfterFirstCall{first: "A fair question to sit with."}, judgeAdapter{})
	ctx := context.Background()

	planner := orchestrator.NewPlanner(h.deps)
	runner := orchestrator.NewRunner(h.deps)
	judge := orchestrator.NewJudge(h.deps)

	cfg := testConfig(3)
	require.NoError(t, planner.Plan(ctx, cfg, "2026-W31"))
	drain(t, ctx, h.dialogue, func(job jobbus.DialogueJob) error { return runner.Handle(ctx, job) })

	runID := manifestRunID(t, ctx, h, cfg, "2026-W31")
	run := loadRun(t, ctx, h, runID)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, 1, run.NTurnsRecorded)
	assert.Equal(t, 1, run.NTurnsPlanned, "n_turns_planned collapses to the last recorded turn on failure")
	assert.NotEmpty(t, run.FailureReason)

	assert.Equal(t, 1, h.judges.Len())
	drain(t, ctx, h.judges, func(job jobbus.JudgeJob) error { return judge.Handle(ctx, job) })

	run = loadRun(t, ctx, h, runID)
	assert.Equal(t, domain.RunCompleted, run.Status, "judging the one recorded turn completes the shrunken run")
	assert.Equal(t, 1, h.events.Len())
}

func TestJudge_MalformedResponseRecordsFailedHeuristicOnlyScore(t *testing.T) {
	h := newHarness(t, "tutor-1", "judge-1", &tutorAdapter{response: "Should you always trust your first intuition here?"}, malformedJudgeAdapter{})
	ctx := context.Background()

	planner := orchestrator.NewPlanner(h.deps)
	runner := orchestrator.NewRunner(h.deps)
	judge := orchestrator.NewJudge(h.deps)

	cfg := testConfig(1)
	require.NoError(t, planner.Plan(ctx, cfg, "2026-W31"))
	drain(t, ctx, h.dialogue, func(job jobbus.DialogueJob) error { return runner.Handle(ctx, job) })
	drain(t, ctx, h.judges, func(job jobbus.JudgeJob) error { return judge.Handle(ctx, job) })

	runID := manifestRunID(t, ctx, h, cfg, "2026-W31")
	item, ok, err := h.kv.Get(ctx, kvstore.PartitionRun(runID), kvstore.SortJudge(0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, true, item.Attrs["failed"])
	assert.Equal(t, float64(0), item.Attrs["scores"].(map[string]any)["overall"])

	heuristics := item.Attrs["heuristics"].(map[string]any)
	assert.Equal(t, true, heuristics["has_question"])
}

// TestJudge_ResumesFromCrashedSentinel simulates a Judge handler that
// crashed after claiming a turn (writing its JUDGE sentinel row) but
// before ever scoring it — the redelivered message must recognize the
// unscored row as unfinished, resume scoring, and still drive the run to
// completion, rather than mistaking the sentinel for a finished turn and
// silently acking a run that can never reach n_turns_judged.
func TestJudge_ResumesFromCrashedSentinel(t *testing.T) {
	h := newHarness(t, "tutor-1", "judge-1", &tutorAdapter{response: "What would change your mind here?"}, judgeAdapter{})
	ctx := context.Background()

	planner := orchestrator.NewPlanner(h.deps)
	runner := orchestrator.NewRunner(h.deps)
	judge := orchestrator.NewJudge(h.deps)

	cfg := testConfig(1)
	require.NoError(t, planner.Plan(ctx, cfg, "2026-W31"))
	drain(t, ctx, h.dialogue, func(job jobbus.DialogueJob) error { return runner.Handle(ctx, job) })

	msgs, err := h.judges.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	job := msgs[0].Body
	require.NoError(t, h.judges.Delete(ctx, msgs[0].ReceiptHandle))

	runID := job.RunID
	unscored := domain.Judge{
		RunID:      runID,
		TurnIndex:  job.TurnIndex,
		JudgeModel: job.JudgeModel,
		BodyRef:    job.BodyRef,
		CreatedAt:  h.clock,
	}
	require.NoError(t, h.kv.Put(ctx, kvstore.Item{
		Partition: kvstore.PartitionRun(runID),
		Sort:      kvstore.SortJudge(job.TurnIndex),
		Attrs:     attrsForTest(t, unscored),
	}))

	require.NoError(t, judge.Handle(ctx, job))

	item, ok, err := h.kv.Get(ctx, kvstore.PartitionRun(runID), kvstore.SortJudge(0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, true, item.Attrs["scored"])
	assert.Equal(t, false, item.Attrs["failed"])

	run := loadRun(t, ctx, h, runID)
	assert.Equal(t, 1, run.NTurnsJudged)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 1, h.events.Len(), "the resumed scoring attempt must still commit completion and publish the event")
}

// attrsForTest flattens v into a kvstore.Item's Attrs map the same way
// the orchestrator package's own unexported attrsOf does, via a JSON
// round trip, so tests can seed rows with the exact on-the-wire shape
// handlers expect to read back.
func attrsForTest(t *testing.T, v any) map[string]any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

// failingAfterFirstCall succeeds once with a fixed response, then fails
// every subsequent call with a non-retryable error, simulating a Runner
// that records turn 0 successfully and then hits an unrecoverable
// gateway failure on turn 1.
type failingAfterFirstCall struct {
	first string
	mu    sync.Mutex
	calls int
}

func (f *failingAfterFirstCall) Generate(_ context.Context, _ string, _ []conversation.Message, _ gateway.Params) (gateway.Result, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == 1 {
		return gateway.Result{Text: f.first}, nil
	}
	return gateway.Result{}, fmt.Errorf("provider rejected request: invalid parameters")
}

func manifestRunID(t *testing.T, ctx context.Context, h *testHarness, cfg manifest.Config, week string) string {
	t.Helper()
	cfg = cfg.WithDefaults()
	manifestID, err := manifest.ManifestID(cfg, week)
	require.NoError(t, err)
	return manifest.RunID(manifestID, cfg.Models[0].ModelID, cfg.Scenarios[0])
}

func loadRun(t *testing.T, ctx context.Context, h *testHarness, runID string) domain.Run {
	t.Helper()
	item, ok, err := h.kv.Get(ctx, kvstore.PartitionRun(runID), kvstore.SortMeta)
	require.NoError(t, err)
	require.True(t, ok)

	run := domain.Run{
		RunID:          item.Attrs["run_id"].(string),
		Status:         domain.RunStatus(item.Attrs["status"].(string)),
		NTurnsPlanned:  int(item.Attrs["n_turns_planned"].(float64)),
		NTurnsRecorded: int(item.Attrs["n_turns_recorded"].(float64)),
		NTurnsJudged:   int(item.Attrs["n_turns_judged"].(float64)),
		ManifestID:     item.Attrs["manifest_id"].(string),
		ModelID:        item.Attrs["model_id"].(string),
		Week:           item.Attrs["week"].(string),
	}
	if reason, ok := item.Attrs["failure_reason"].(string); ok {
		run.FailureReason = reason
	}
	return run
}
