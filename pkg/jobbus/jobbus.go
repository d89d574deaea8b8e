// Package jobbus implements the pipeline's two at-least-once work queues
// (dialogue-jobs, judge-jobs) and the run-judged event bus. Handlers
// consume messages, do their work, and Delete on success; a message left
// un-deleted becomes visible again after its visibility timeout and is
// redelivered, eventually landing in a dead-letter queue.
package jobbus

import (
	"context"
	"time"
)

// DialogueJob is a dialogue-jobs queue message: one Runner invocation.
type DialogueJob struct {
	RunID      string `json:"run_id"`
	ManifestID string `json:"manifest_id"`
	ModelID    string `json:"model_id"`
	ScenarioID string `json:"scenario_id"`
	MaxTurns   int    `json:"max_turns"`
}

// JudgeJob is a judge-jobs queue message: one Judge invocation.
type JudgeJob struct {
	RunID      string `json:"run_id"`
	TurnIndex  int    `json:"turn_index"`
	BodyRef    string `json:"body_ref"`
	JudgeModel string `json:"judge_model"`
}

// RunJudgedEvent is the run-judged event bus payload, published exactly
// once per completed Run and consumed by the Curator.
type RunJudgedEvent struct {
	RunID      string    `json:"run_id"`
	ManifestID string    `json:"manifest_id"`
	ModelID    string    `json:"model_id"`
	Week       string    `json:"week"`
	JudgedAt   time.Time `json:"judged_at"`
}

// Visibility timeouts and redelivery limits fixed by spec §4.4.
const (
	DialogueVisibilityTimeout = 15 * time.Minute
	JudgeVisibilityTimeout    = 5 * time.Minute
	MaxRedeliveries           = 3
)

// Message wraps a decoded body with the receipt handle needed to delete
// or release it.
type Message[T any] struct {
	Body          T
	ReceiptHandle string
}

// Queue is a typed at-least-once work queue.
type Queue[T any] interface {
	// Send enqueues body as a new message.
	Send(ctx context.Context, body T) error

	// Receive polls for up to maxMessages, waiting up to waitTime for at
	// least one to arrive (long polling). Returns an empty slice, not an
	// error, on a timeout with nothing available.
	Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]Message[T], error)

	// Delete removes a message after it has been successfully processed.
	// Never called for a message whose effects should be retried.
	Delete(ctx context.Context, receiptHandle string) error
}

// EventBus is a typed at-least-once publish/consume channel, used here
// only for the single run-judged event type.
type EventBus[T any] interface {
	Publish(ctx context.Context, event T) error
	Queue[T]
}

// DepthReporter is implemented by queues that can report their current
// approximate pending-message count. Used by the "queue" CLI subcommand,
// which also records each depth it reads in the queue-depth gauge; not
// part of Queue itself since a handler never needs it.
type DepthReporter interface {
	Depth(ctx context.Context) (int64, error)
}
