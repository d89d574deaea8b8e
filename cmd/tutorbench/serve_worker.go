package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elenchus-labs/tutorbench/pkg/metrics"
	"github.com/elenchus-labs/tutorbench/pkg/orchestrator"
	"golang.org/x/sync/errgroup"
)

// ServeWorkerCmd runs the Runner, Judge, and Curator dispatch loops
// concurrently against their queues until interrupted, exposing
// Prometheus metrics over HTTP at the configured listen address.
type ServeWorkerCmd struct {
	PollWait time.Duration `default:"20s" name:"poll-wait" help:"Long-poll wait per queue receive."`
}

func (s *ServeWorkerCmd) Run(g *Globals) error {
	// Unlike the one-shot commands, serve-worker runs until signalled, so
	// it ignores g.Timeout and only reacts to SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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

	runner := orchestrator.NewRunner(deps)
	judge := orchestrator.NewJudge(deps)
	curator := orchestrator.NewCurator(deps)

	group, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.ListenAddr != "" {
		server := &http.Server{
			Addr:    cfg.Metrics.ListenAddr,
			Handler: metrics.NewPrometheusExporter(deps.Metrics).Handler(),
		}
		group.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
		slog.Info("serve-worker: metrics listening", "addr", cfg.Metrics.ListenAddr)
	}

	group.Go(func() error {
		return orchestrator.Dispatch(ctx, "dialogue-jobs", deps.DialogueQueue, cfg.Concurrency.Runner, s.PollWait, deps.Metrics, runner.Handle)
	})
	group.Go(func() error {
		return orchestrator.Dispatch(ctx, "judge-jobs", deps.JudgeQueue, cfg.Concurrency.Judge, s.PollWait, deps.Metrics, judge.Handle)
	})
	group.Go(func() error {
		return orchestrator.Dispatch(ctx, "run-judged", deps.RunJudgedBus, cfg.Concurrency.Curator, s.PollWait, deps.Metrics, curator.Handle)
	})

	return group.Wait()
}
