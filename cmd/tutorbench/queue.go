package main

import (
	"encoding/json"
	"fmt"

	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
)

// QueueCmd reports the approximate pending-message depth of one or all
// of the pipeline's three queues.
type QueueCmd struct {
	Name string `arg:"" optional:"" enum:"dialogue-jobs,judge-jobs,run-judged,all" default:"all" help:"Queue to report depth for."`
}

func (q *QueueCmd) Run(g *Globals) error {
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

	reporters := map[string]jobbus.DepthReporter{
		"dialogue-jobs": deps.DialogueQueue.(jobbus.DepthReporter),
		"judge-jobs":    deps.JudgeQueue.(jobbus.DepthReporter),
		"run-judged":    deps.RunJudgedBus.(jobbus.DepthReporter),
	}

	names := []string{q.Name}
	if q.Name == "all" {
		names = []string{"dialogue-jobs", "judge-jobs", "run-judged"}
	}

	depths := make(map[string]int64, len(names))
	for _, name := range names {
		depth, err := reporters[name].Depth(ctx)
		if err != nil {
			return fmt.Errorf("read depth of %q: %w", name, err)
		}
		depths[name] = depth
		if deps.Metrics != nil {
			deps.Metrics.SetQueueDepth(name, depth)
		}
	}

	body, err := json.Marshal(depths)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}
