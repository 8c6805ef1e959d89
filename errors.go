package ice

import "errors"

// Sentinel errors returned by the check-list manager and session.
var (
	ErrPairNotFound          = errors.New("ice: candidate pair not found")
	ErrNoRemoteCredentials   = errors.New("ice: remote ufrag/pwd not set")
	ErrComponentMismatch     = errors.New("ice: local and remote component IDs differ")
	ErrUnsupportedComponent  = errors.New("ice: component IDs above 2 are not supported")
	ErrChecklistDestroyed    = errors.New("ice: check list already destroyed")
	ErrNoCandidates          = errors.New("ice: no local candidates for component")
	ErrFoundationCollision   = errors.New("ice: could not generate a unique peer-reflexive foundation")
	ErrMaxConnectivityChecks = errors.New("ice: max_connectivity_checks must be positive")
)
