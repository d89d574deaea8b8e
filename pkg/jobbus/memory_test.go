package jobbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/elenchus-labs/tutorbench/pkg/jobbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_SendReceiveDelete(t *testing.T) {
	q := jobbus.NewMemoryQueue[jobbus.DialogueJob]()
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, jobbus.DialogueJob{RunID: "r1", MaxTurns: 5}))
	assert.Equal(t, 1, q.Len())

	msgs, err := q.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "r1", msgs[0].Body.RunID)

	require.NoError(t, q.Delete(ctx, msgs[0].ReceiptHandle))
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_RedeliveryWithoutDeleteEventuallyDLQs(t *testing.T) {
	q := jobbus.NewMemoryQueue[jobbus.JudgeJob]()
	ctx := context.Background()
	require.NoError(t, q.Send(ctx, jobbus.JudgeJob{RunID: "r1", TurnIndex: 1}))

	for i := 0; i <= jobbus.MaxRedeliveries; i++ {
		_, err := q.Receive(ctx, 10, time.Second)
		require.NoError(t, err)
	}

	q.ReapDeadLetters()
	assert.Equal(t, 0, q.Len())
	require.Len(t, q.Dead, 1)
	assert.Equal(t, 1, q.Dead[0].TurnIndex)
}

func TestMemoryQueue_PublishIsEventBus(t *testing.T) {
	var bus jobbus.EventBus[jobbus.RunJudgedEvent] = jobbus.NewMemoryQueue[jobbus.RunJudgedEvent]()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, jobbus.RunJudgedEvent{RunID: "r1"}))
	msgs, err := bus.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "r1", msgs[0].Body.RunID)
}
