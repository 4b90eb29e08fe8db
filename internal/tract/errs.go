package tract

import "github.com/rotisserie/eris"

// Closed error taxonomy for index generation. Every failure surfaced to the
// HTTP layer is one of these, wrapped with context via eris; the handler
// layer is the single translation point to client-facing responses.
var (
	// ErrDataNotLoaded means the startup load failed or never ran. All data
	// routes answer service-unavailable while the process runs degraded.
	ErrDataNotLoaded = eris.New("tract: required data not loaded")

	// ErrInvalidInput covers missing/empty index names and variable lists,
	// and names that sanitize to nothing.
	ErrInvalidInput = eris.New("tract: invalid input")

	// ErrNoValidVariables means every requested variable failed resolution.
	ErrNoValidVariables = eris.New("tract: no valid variables selected")

	// ErrMissingColumn indicates schema drift: a column the resolver's cached
	// availability promised is absent at request time.
	ErrMissingColumn = eris.New("tract: expected column missing")

	// ErrAggregationFailure wraps errors from the grouping/sum computation.
	ErrAggregationFailure = eris.New("tract: aggregation failed")

	// ErrMergeInvariant means a merge changed the base table row count or the
	// target column is absent post-merge. The table must not be published.
	ErrMergeInvariant = eris.New("tract: merge invariant violated")
)
