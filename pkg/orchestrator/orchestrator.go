// Package orchestrator implements the pipeline's four stateless
// handlers — Planner, Runner, Judge, and Curator — and the bounded
// worker pool that dispatches queue messages to them. Each handler is a
// single-threaded, idempotent unit of work; concurrency comes from
// running many of them in parallel via Dispatch, not from shared
// in-process state.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/elenchus-labs/tutorbench/pkg/gateway"
	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/elenchus-labs/tutorbench/pkg/kvstore"
	"github.com/elenchus-labs/tutorbench/pkg/metrics"
	"github.com/elenchus-labs/tutorbench/pkg/objectstore"
	"golang.org/x/sync/errgroup"
)

// Deps bundles the shared, stateless collaborators every handler reads
// and writes through. No handler keeps its own copy of pipeline state;
// everything mutable lives in KV and Objects.
type Deps struct {
	KV            kvstore.Store
	Objects       objectstore.Store
	Gateway       *gateway.Gateway
	DialogueQueue jobbus.Queue[jobbus.DialogueJob]
	JudgeQueue    jobbus.Queue[jobbus.JudgeJob]
	RunJudgedBus  jobbus.EventBus[jobbus.RunJudgedEvent]

	// Metrics records handler-level counters (judge parse failures, runs
	// completed). Nil disables metrics recording, as Dispatch's queue
	// throughput counters already do.
	Metrics *metrics.Metrics

	// Now returns the current time. Defaults to time.Now; overridden in
	// tests for deterministic timestamps.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// isAlreadyApplied reports whether err represents a conditional write
// that lost a race because the effect was already applied by another
// worker. Handlers treat this the same as success.
func isAlreadyApplied(err error) bool {
	return errors.Is(err, kvstore.ErrConditionFailed)
}

// attrsOf flattens a domain record into a kvstore.Item's Attrs map via a
// JSON round trip, so every handler stores records with the exact field
// names and types domain's own json tags declare.
func attrsOf(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// fromAttrs reverses attrsOf, decoding a kvstore.Item's Attrs map back
// into a typed domain record.
func fromAttrs(attrs map[string]any, out any) error {
	b, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Dispatch runs a bounded pool of workers against q, each pulling one
// message at a time and calling handle. A message is deleted from q
// only when handle returns nil; any error leaves it for redelivery,
// matching the at-least-once, idempotent-handler contract of §5.
// Dispatch returns when ctx is cancelled. queueName labels every metric
// this call records; m may be nil to skip metrics entirely.
func Dispatch[T any](ctx context.Context, queueName string, q jobbus.Queue[T], concurrency int, pollWait time.Duration, m *metrics.Metrics, handle func(context.Context, T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for ctx.Err() == nil {
		messages, err := q.Receive(ctx, 1, pollWait)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("queue receive failed", "queue", queueName, "error", err)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		msg := messages[0]
		g.Go(func() error {
			if err := handle(ctx, msg.Body); err != nil {
				slog.Warn("handler returned error, leaving message for redelivery", "queue", queueName, "error", err)
				if m != nil {
					m.IncJobsProcessed(queueName, "failure")
				}
				return nil
			}
			if m != nil {
				m.IncJobsProcessed(queueName, "success")
			}
			return q.Delete(ctx, msg.ReceiptHandle)
		})
	}

	return g.Wait()
}
