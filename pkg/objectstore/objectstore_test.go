package objectstore_test

import (
	"context"
	"testing"

	"github.com/elenchus-labs/tutorbench/pkg/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PutGet(t *testing.T) {
	store := objectstore.NewMemory()
	ctx := context.Background()

	key := objectstore.TurnKey("run-1", 3)
	assert.Equal(t, "raw/runs/run-1/turn_003.json", key)

	require.NoError(t, store.Put(ctx, key, []byte(`{"turn_index":3}`)))

	body, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"turn_index":3}`, string(body))
}

func TestMemory_GetMissing(t *testing.T) {
	store := objectstore.NewMemory()
	_, ok, err := store.Get(context.Background(), "raw/runs/missing/turn_000.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "raw/runs/r1/judge_012.json", objectstore.JudgeKey("r1", 12))
	assert.Equal(t, "curated/runs/r1.json", objectstore.CuratedRunKey("r1"))
	assert.Equal(t, "curated/weekly/2025-W45/gpt-4o-mini.json", objectstore.CuratedWeeklyKey("2025-W45", "gpt-4o-mini"))
	assert.Equal(t, "manifests/abc123.json", objectstore.ManifestKey("abc123"))
}
