// Package manifest builds the immutable weekly run manifest: it parses
// the externally supplied configuration blob, canonicalizes it to a
// stable byte form, and derives the content-addressed manifest_id and
// per-(model,scenario) run_id used throughout the pipeline.
//
// No teacher file in the reference corpus does content-addressing; the
// canonicalization and hashing here are built directly against spec §6's
// exact byte-form requirement using only the standard library.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ModelEntry is one entry of the configuration's "models" list.
type ModelEntry struct {
	ModelID     string  `json:"model_id"`
	Provider    string  `json:"provider"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Parameters holds the weekly run's tunable thresholds and limits.
type Parameters struct {
	MaxTurns            int     `json:"max_turns"`
	JudgeModel          string  `json:"judge_model"`
	ComplianceThreshold float64 `json:"compliance_threshold"`
	DisciplineThreshold float64 `json:"discipline_threshold"`
}

// Config is the externally supplied weekly configuration blob, read from
// a well-known object-store key by the Planner.
type Config struct {
	Models     []ModelEntry `json:"models"`
	Scenarios  []string     `json:"scenarios"`
	Parameters Parameters   `json:"parameters"`
}

// defaultComplianceThreshold and defaultDisciplineThreshold are applied
// when a config omits its threshold fields (spec §6).
const (
	defaultComplianceThreshold = 0.30
	defaultDisciplineThreshold = 0.80
)

// WithDefaults returns cfg with zero-valued threshold parameters filled
// in from the pipeline's defaults. Callers apply this before computing
// manifest_id so that two configs differing only by an omitted default
// hash identically.
func (cfg Config) WithDefaults() Config {
	if cfg.Parameters.ComplianceThreshold == 0 {
		cfg.Parameters.ComplianceThreshold = defaultComplianceThreshold
	}
	if cfg.Parameters.DisciplineThreshold == 0 {
		cfg.Parameters.DisciplineThreshold = defaultDisciplineThreshold
	}
	return cfg
}

// Manifest is the immutable, content-addressed snapshot of one week's
// configuration.
type Manifest struct {
	ManifestID          string    `json:"manifest_id"`
	Week                string    `json:"week"`
	Models              []string  `json:"models"`
	Scenarios           []string  `json:"scenarios"`
	MaxTurns            int       `json:"max_turns"`
	JudgeModel          string    `json:"judge_model"`
	ComplianceThreshold float64   `json:"compliance_threshold"`
	DisciplineThreshold float64   `json:"discipline_threshold"`
	CreatedAt           time.Time `json:"created_at"`
}

// Canonicalize re-marshals cfg with object keys sorted and numbers in
// fixed decimal form, producing the exact byte sequence the manifest_id
// hash is taken over. Two Configs with identical field values always
// canonicalize to identical bytes, regardless of declaration order.
func Canonicalize(cfg Config) ([]byte, error) {
	// Round-trip through a generic map so object key ordering is
	// normalized independent of struct field declaration order, then
	// marshal with sorted keys via canonicalValue.
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal config: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("manifest: normalize config: %w", err)
	}

	var buf []byte
	buf, err = appendCanonical(buf, generic)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// appendCanonical renders v into buf with map keys sorted and no
// insignificant whitespace. encoding/json already emits numbers in a
// stable, minimal decimal form, which matches spec §6's "fixed decimal
// form" requirement for values that round-trip through float64.
func appendCanonical(buf []byte, v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf, err = appendCanonical(buf, val[k])
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, '}')
		return buf, nil

	case []any:
		buf = append(buf, '[')
		for i, elem := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendCanonical(buf, elem)
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, ']')
		return buf, nil

	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return append(buf, b...), nil
	}
}

// ManifestID computes the content hash of the canonical configuration
// concatenated with the week label. Identical (config, week) pairs
// always produce the same id, satisfying the idempotent-planning
// invariant (spec §8).
func ManifestID(cfg Config, week string) (string, error) {
	canon, err := Canonicalize(cfg)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(canon)
	h.Write([]byte("\x00"))
	h.Write([]byte(week))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RunID derives a deterministic, content-addressed id for one
// (manifest_id, model_id, scenario_id) triple, so replanning the same
// week never creates a duplicate Run.
func RunID(manifestID, modelID, scenarioID string) string {
	h := sha256.New()
	h.Write([]byte(manifestID))
	h.Write([]byte("\x00"))
	h.Write([]byte(modelID))
	h.Write([]byte("\x00"))
	h.Write([]byte(scenarioID))
	return hex.EncodeToString(h.Sum(nil))[:26]
}

// New builds the Manifest record for cfg at week, using an id already
// computed by ManifestID (kept separate so callers can check existence
// before constructing the full record).
func New(manifestID string, cfg Config, week string, createdAt time.Time) Manifest {
	modelIDs := make([]string, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		modelIDs = append(modelIDs, m.ModelID)
	}
	return Manifest{
		ManifestID:          manifestID,
		Week:                week,
		Models:              modelIDs,
		Scenarios:           cfg.Scenarios,
		MaxTurns:            cfg.Parameters.MaxTurns,
		JudgeModel:          cfg.Parameters.JudgeModel,
		ComplianceThreshold: cfg.Parameters.ComplianceThreshold,
		DisciplineThreshold: cfg.Parameters.DisciplineThreshold,
		CreatedAt:  createdAt,
	}
}
