package types

import "errors"

// Sentinel errors shared across packages. Callers match with errors.Is;
// wrap with fmt.Errorf("%w: ...") to add context at the failure site.
var (
	// ErrNotFound indicates a lookup by id matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a caller-supplied value failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrJobTerminal indicates a mutation was attempted on a job whose
	// state admits no further transitions.
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrInvalidTransition indicates a job state transition outside the
	// lifecycle graph.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrCheckpointStale indicates a checkpoint whose version is not
	// understood by this build and cannot be resumed from.
	ErrCheckpointStale = errors.New("checkpoint version not supported")

	// ErrIntegrity indicates the claim ledger failed its evidentiary
	// contract check.
	ErrIntegrity = errors.New("ledger integrity violation")

	// ErrProviderOpen indicates a provider was skipped because its
	// circuit breaker is open.
	ErrProviderOpen = errors.New("provider circuit open")

	// ErrRoutingExhausted indicates no provider in the routing strategy
	// could serve the request.
	ErrRoutingExhausted = errors.New("all routing candidates exhausted")

	// ErrMaxRetriesExceeded indicates an operation kept failing past its
	// retry budget.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrNoEmbedder indicates semantic search was requested but no
	// embedding engine is configured.
	ErrNoEmbedder = errors.New("no embedding engine configured")
)
