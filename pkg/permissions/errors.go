package permissions

import "errors"

var (
	// ErrResourceNotFound is returned by the hierarchy index when a resource
	// does not exist. The query service maps it to LevelNone so callers
	// cannot distinguish "no access" from "nonexistent".
	ErrResourceNotFound = errors.New("resource not found")

	// ErrGrantExceedsSource marks a row whose level is above its source
	// kind's ceiling. The materializer rejects such writes outright.
	ErrGrantExceedsSource = errors.New("grant exceeds source ceiling")

	// ErrInvalidRow marks a row that violates a structural invariant
	// (principal identity, resource type, missing guest expiry).
	ErrInvalidRow = errors.New("invalid permission row")

	// ErrInvalidPrincipal is returned for principals that carry neither or
	// both identities.
	ErrInvalidPrincipal = errors.New("invalid principal")
)
