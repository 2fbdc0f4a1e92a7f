// Package errs defines the stable, enumerated error kinds raised across the
// governor core. Call sites wrap a sentinel with fmt.Errorf("...: %w", err)
// and callers discriminate with errors.Is.
package errs

import "errors"

var (
	// ErrValidation marks a request or config value that failed a named
	// predicate. Surfaced to the caller; no state change.
	ErrValidation = errors.New("validation failed")

	// ErrProofFailure marks an SMT verdict of SAT or UNKNOWN against a
	// safety obligation. Aborts the cycle.
	ErrProofFailure = errors.New("proof failure")

	// ErrSpectralBreach marks a spectral radius estimate at or above the
	// configured hard limit. Aborts the cycle.
	ErrSpectralBreach = errors.New("spectral breach")

	// ErrDriftAlert marks a drift-window mean or max change exceeding its
	// threshold. Aborts the cycle.
	ErrDriftAlert = errors.New("drift alert")

	// ErrEnergyApoptosis marks a breached energy budget. Fatal: the
	// process terminates.
	ErrEnergyApoptosis = errors.New("energy apoptosis triggered")

	// ErrSmtParse marks malformed SMT-LIB2 input. The verifier caches a
	// fail verdict and surfaces this to the caller.
	ErrSmtParse = errors.New("smt parse error")

	// ErrCacheUnavailable marks a proof-cache backend outage. Absorbed
	// silently by the cache; callers proceed uncached.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrAuth marks a bearer-token mismatch on the operator interface.
	ErrAuth = errors.New("unauthorized")

	// ErrIO marks a local persistence failure (event log append, config
	// write). Returned to the caller; the failed write is not retried.
	ErrIO = errors.New("io error")
)
