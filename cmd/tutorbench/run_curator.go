package main

import (
	"fmt"

	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/elenchus-labs/tutorbench/pkg/orchestrator"
)

// RunCuratorCmd folds a single judged run into its weekly rollup, the
// manual-retry path for a run-judged event without waiting on the bus.
type RunCuratorCmd struct {
	RunID string `required:"" name:"run-id"`
}

func (c *RunCuratorCmd) Run(g *Globals) error {
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

	curator := orchestrator.NewCurator(deps)
	if err := curator.Handle(ctx, jobbus.RunJudgedEvent{RunID: c.RunID}); err != nil {
		return err
	}

	fmt.Printf("{\"run_id\":%q,\"status\":\"curated\"}\n", c.RunID)
	return nil
}
