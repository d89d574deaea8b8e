package main

import (
	"encoding/json"
	"fmt"

	"github.com/elenchus-labs/tutorbench/pkg/manifest"
	"github.com/elenchus-labs/tutorbench/pkg/orchestrator"
)

// PlanCmd materializes one week's frozen manifest and fans out its
// dialogue jobs. The weekly configuration blob is read from the object
// store at the loaded infra config's storage.config_key.
type PlanCmd struct {
	Week string `arg:"" help:"ISO week identifier the manifest is planned for (e.g. 2026-W31)."`
}

func (p *PlanCmd) Run(g *Globals) error {
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

	rawCfg, ok, err := deps.Objects.Get(ctx, cfg.Storage.ConfigKey)
	if err != nil {
		return fmt.Errorf("read weekly config blob %s: %w", cfg.Storage.ConfigKey, err)
	}
	if !ok {
		return fmt.Errorf("weekly config blob %s not found", cfg.Storage.ConfigKey)
	}

	var weeklyCfg manifest.Config
	if err := json.Unmarshal(rawCfg, &weeklyCfg); err != nil {
		return fmt.Errorf("decode weekly config blob: %w", err)
	}

	planner := orchestrator.NewPlanner(deps)
	if err := planner.Plan(ctx, weeklyCfg, p.Week); err != nil {
		return err
	}

	fmt.Printf("{\"week\":%q,\"status\":\"planned\"}\n", p.Week)
	return nil
}
