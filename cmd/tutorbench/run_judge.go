package main

import (
	"fmt"

	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/elenchus-labs/tutorbench/pkg/orchestrator"
)

// RunJudgeCmd scores a single recorded turn, the manual-retry path for a
// judge-jobs message without waiting on the queue.
type RunJudgeCmd struct {
	RunID      string `required:"" name:"run-id"`
	TurnIndex  int    `required:"" name:"turn"`
	JudgeModel string `required:"" name:"judge-model"`
	BodyRef    string `required:"" name:"body-ref" help:"Object-store key of the turn body to judge."`
}

func (c *RunJudgeCmd) Run(g *Globals) error {
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

	judge := orchestrator.NewJudge(deps)
	job := jobbus.JudgeJob{
		RunID:      c.RunID,
		TurnIndex:  c.TurnIndex,
		BodyRef:    c.BodyRef,
		JudgeModel: c.JudgeModel,
	}
	if err := judge.Handle(ctx, job); err != nil {
		return err
	}

	fmt.Printf("{\"run_id\":%q,\"turn_index\":%d,\"status\":\"judged\"}\n", c.RunID, c.TurnIndex)
	return nil
}
