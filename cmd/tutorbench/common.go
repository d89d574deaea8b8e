package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/elenchus-labs/tutorbench/pkg/logging"
	"github.com/elenchus-labs/tutorbench/pkg/pipelineerr"
)

const version = "0.1.0"

func printVersion() {
	fmt.Printf("tutorbench %s\n", version)
}

// configureLogging sets up the global slog logger per g's flags.
func configureLogging(g *Globals) {
	logging.Configure(logging.ParseLevel(g.LogLevel), g.LogFormat, nil)
}

// setupContext builds a context cancelled on SIGINT/SIGTERM or after g's
// timeout, whichever comes first. The returned cancel func must be called
// to avoid leaking the timer.
func setupContext(g *Globals) (context.Context, context.CancelFunc) {
	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(baseCtx, g.Timeout)
	return ctx, func() {
		stop()
		cancel()
	}
}

// exitCodeFor maps err onto the exit-code contract: 0 success, 2
// validation error, 3 model error, 4 persistence error, 1 anything
// else. Validation covers the unknown-model and scenario-not-found
// cases; model covers gateway/run failures and judge parse failures;
// persistence covers kv/object-store unavailability and lost
// conditional-write races that were not otherwise absorbed as no-ops.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := pipelineerr.Classify(err)
	if !ok {
		return 1
	}
	switch kind {
	case pipelineerr.KindUnknownModel, pipelineerr.KindScenarioNotFound:
		return 2
	case pipelineerr.KindTransientGateway, pipelineerr.KindRunFailure, pipelineerr.KindJudgeParse:
		return 3
	case pipelineerr.KindPersistenceConflict, pipelineerr.KindPersistenceUnavailable:
		return 4
	default:
		return 1
	}
}
