// Package pipelineerr defines the error taxonomy shared by every pipeline
// handler (Planner, Runner, Judge, Curator) and the classification helper
// that maps an arbitrary error onto that taxonomy.
package pipelineerr

import (
	"errors"
	"fmt"
)

// Kind identifies where an error falls in the pipeline's error taxonomy.
type Kind string

const (
	// KindTransientGateway covers throttling, 5xx, reset, and timeout errors
	// from the Model Gateway. Retried with bounded backoff; exhaustion
	// promotes to KindRunFailure.
	KindTransientGateway Kind = "transient_gateway"
	// KindUnknownModel is a gateway registry miss. Terminal for the run.
	KindUnknownModel Kind = "unknown_model"
	// KindScenarioNotFound means the orchestrator could not resolve a
	// scenario_id against the compiled-in registry. Terminal, DLQ'd.
	KindScenarioNotFound Kind = "scenario_not_found"
	// KindJudgeParse is a judge response that failed strict JSON parsing
	// or dimension validation. Recorded with failed=true, not retried.
	KindJudgeParse Kind = "judge_parse"
	// KindPersistenceConflict is a conditional write that lost a race.
	// Interpreted as "already applied"; the handler acks the message.
	KindPersistenceConflict Kind = "persistence_conflict"
	// KindPersistenceUnavailable is a store-level error (network, throttling).
	// Retried within the handler's budget; on exhaustion the message is not
	// acked so it is redelivered.
	KindPersistenceUnavailable Kind = "persistence_unavailable"
	// KindRunFailure means the Runner exhausted its turn budget on errors.
	KindRunFailure Kind = "run_failure"
	// KindUnknown is the fallback for errors that do not match any of the
	// taxonomy's sentinels; callers should treat these conservatively.
	KindUnknown Kind = "unknown"
)

// Sentinel errors. Use errors.Is against these, or wrap with fmt.Errorf's
// %w verb and let Classify unwrap.
var (
	ErrUnknownModel     = errors.New("gateway: unknown model_id")
	ErrScenarioNotFound = errors.New("orchestrator: scenario not found")
	ErrJudgeParse       = errors.New("scoring: judge response parse failure")
	ErrPersistConflict  = errors.New("persistence: conditional write conflict")
	ErrPersistUnavail   = errors.New("persistence: store unavailable")
	ErrTransientGateway = errors.New("gateway: transient error")
	ErrRunFailure       = errors.New("orchestrator: run failed")
)

// Classify maps err onto a Kind by unwrapping against the taxonomy's
// sentinels. A nil error classifies as KindUnknown with ok=false.
func Classify(err error) (Kind, bool) {
	switch {
	case err == nil:
		return KindUnknown, false
	case errors.Is(err, ErrUnknownModel):
		return KindUnknownModel, true
	case errors.Is(err, ErrScenarioNotFound):
		return KindScenarioNotFound, true
	case errors.Is(err, ErrJudgeParse):
		return KindJudgeParse, true
	case errors.Is(err, ErrPersistConflict):
		return KindPersistenceConflict, true
	case errors.Is(err, ErrPersistUnavail):
		return KindPersistenceUnavailable, true
	case errors.Is(err, ErrTransientGateway):
		return KindTransientGateway, true
	case errors.Is(err, ErrRunFailure):
		return KindRunFailure, true
	default:
		return KindUnknown, false
	}
}

// Retryable reports whether an error of this Kind should be retried
// locally by the handler (as opposed to being terminal for the run or
// treated as already-applied).
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientGateway, KindPersistenceUnavailable:
		return true
	default:
		return false
	}
}

// Terminal reports whether an error of this Kind ends the run (Run.Status
// transitions to failed) rather than being absorbed as a no-op or retried.
func (k Kind) Terminal() bool {
	switch k {
	case KindUnknownModel, KindScenarioNotFound, KindRunFailure:
		return true
	default:
		return false
	}
}

// GatewayError wraps a provider-adapter failure, tagging whether the
// underlying cause is transient (should retry) or not.
type GatewayError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway(%s): %v", e.Provider, e.Err)
}

func (e *GatewayError) Unwrap() []error {
	if e.Transient {
		return []error{ErrTransientGateway, e.Err}
	}
	return []error{e.Err}
}

// NewGatewayError constructs a GatewayError, classifying it transient or
// terminal based on the caller's judgment of the underlying provider error.
func NewGatewayError(provider string, transient bool, err error) *GatewayError {
	return &GatewayError{Provider: provider, Transient: transient, Err: err}
}
