package jobbus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryMessage[T any] struct {
	body      T
	handle    string
	delivered int
}

// MemoryQueue is an in-process Queue used by orchestrator tests. It
// models at-least-once delivery and the DLQ threshold: an undeleted
// message is returned again by every Receive, and ReapDeadLetters moves
// one received more than MaxRedeliveries times to Dead.
type MemoryQueue[T any] struct {
	mu      sync.Mutex
	nextID  int
	pending []*memoryMessage[T]
	Dead    []T
}

// NewMemoryQueue constructs an empty in-memory Queue/EventBus.
func NewMemoryQueue[T any]() *MemoryQueue[T] {
	return &MemoryQueue[T]{}
}

func (q *MemoryQueue[T]) Send(_ context.Context, body T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	q.pending = append(q.pending, &memoryMessage[T]{body: body, handle: fmt.Sprintf("msg-%d", q.nextID)})
	return nil
}

// Publish is an alias for Send, satisfying EventBus.
func (q *MemoryQueue[T]) Publish(ctx context.Context, event T) error {
	return q.Send(ctx, event)
}

func (q *MemoryQueue[T]) Receive(_ context.Context, maxMessages int, _ time.Duration) ([]Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Message[T]
	for _, msg := range q.pending {
		if len(out) >= maxMessages {
			break
		}
		msg.delivered++
		out = append(out, Message[T]{Body: msg.body, ReceiptHandle: msg.handle})
	}
	return out, nil
}

func (q *MemoryQueue[T]) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, msg := range q.pending {
		if msg.handle == receiptHandle {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return nil
		}
	}
	return nil
}

// ReapDeadLetters moves every pending message that has been delivered
// more than MaxRedeliveries times into Dead, removing it from the
// pending set. Tests call this to simulate the DLQ redrive policy
// without an actual visibility-timeout clock.
func (q *MemoryQueue[T]) ReapDeadLetters() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var alive []*memoryMessage[T]
	for _, msg := range q.pending {
		if msg.delivered > MaxRedeliveries {
			q.Dead = append(q.Dead, msg.body)
			continue
		}
		alive = append(alive, msg)
	}
	q.pending = alive
}

// Len reports the number of messages currently pending (not yet deleted
// or reaped), used by tests asserting queue depth.
func (q *MemoryQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Depth satisfies DepthReporter.
func (q *MemoryQueue[T]) Depth(_ context.Context) (int64, error) {
	return int64(q.Len()), nil
}
