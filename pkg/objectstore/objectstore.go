// Package objectstore implements the pipeline's cold tier: full turn and
// judge payloads, curated run and weekly outputs, and manifest snapshots,
// each written at a deterministic, content-addressed key. Grounded on the
// client-construction idiom shared across internal/adapters (bedrock, and
// by extension this package's S3 implementation).
package objectstore

import (
	"context"
	"fmt"
)

// Store is the persistence contract for full JSON payloads.
type Store interface {
	// Put writes body at key unconditionally. Deterministic keys mean a
	// retried write lands on the same key with byte-equivalent content,
	// making "put if absent" unnecessary for this tier (spec §4.3).
	Put(ctx context.Context, key string, body []byte) error

	// Get reads the body at key. ok is false if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// Key builders. Centralizing these keeps the raw/curated/manifests
// prefixes and zero-padding in one place.

// TurnKey returns the object key for one turn's raw payload.
func TurnKey(runID string, turnIndex int) string {
	return fmt.Sprintf("raw/runs/%s/turn_%s.json", runID, zeroPad3(turnIndex))
}

// JudgeKey returns the object key for one turn's raw judge payload.
func JudgeKey(runID string, turnIndex int) string {
	return fmt.Sprintf("raw/runs/%s/judge_%s.json", runID, zeroPad3(turnIndex))
}

// CuratedRunKey returns the object key for a Run's curated summary.
func CuratedRunKey(runID string) string {
	return fmt.Sprintf("curated/runs/%s.json", runID)
}

// CuratedWeeklyKey returns the object key for one (week, model) WeeklyRollup.
func CuratedWeeklyKey(week, modelID string) string {
	return fmt.Sprintf("curated/weekly/%s/%s.json", week, modelID)
}

// ManifestKey returns the object key for a Manifest snapshot.
func ManifestKey(manifestID string) string {
	return fmt.Sprintf("manifests/%s.json", manifestID)
}

func zeroPad3(n int) string {
	s := fmt.Sprintf("%d", n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
