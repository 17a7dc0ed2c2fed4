// Package x402api implements the gateway's error taxonomy: the named error
// kinds of spec §7 and their HTTP surface. Verification-class errors are
// terminal and client-correctable (retry with a new signature); settlement
// errors require operator attention; upstream errors carry settlement
// evidence so the caller can pursue recourse with the provider.
package x402api

import (
	"fmt"
	"net/http"
	"strings"
)

// Kind names a point in the taxonomy of spec §7. It is carried on Error
// instead of being inferred from an HTTP status, so callers inside the
// gateway can switch on it without re-parsing a response body.
type Kind string

const (
	KindMissingPayment        Kind = "MISSING_PAYMENT"
	KindInvalidPayload        Kind = "INVALID_PAYLOAD"
	KindBadRequirementsEcho   Kind = "BAD_REQUIREMENTS_ECHO"
	KindBadDestination        Kind = "BAD_DESTINATION"
	KindInsufficientValue     Kind = "INSUFFICIENT_VALUE"
	KindOutOfWindow           Kind = "OUT_OF_WINDOW"
	KindNonceUsed             Kind = "NONCE_USED"
	KindBadSignature          Kind = "BAD_SIGNATURE"
	KindServiceInactive       Kind = "SERVICE_INACTIVE"
	KindSettlementFailed      Kind = "SETTLEMENT_FAILED"
	KindUpstreamFailed        Kind = "UPSTREAM_FAILED"
	KindTimedOut              Kind = "TIMED_OUT"
	KindRateLimited           Kind = "RATE_LIMITED"
	KindPayerBlacklisted      Kind = "PAYER_BLACKLISTED"
	KindNativeNotMediated     Kind = "NATIVE_NOT_MEDIATED"
)

// httpStatus maps each Kind to the response status spec §7 prescribes.
// UPSTREAM_FAILED and TIMED_OUT are not 4xx/5xx in the usual sense — both
// still carry a 2xx envelope with settlement evidence, so they're handled
// explicitly by callers rather than via this table.
var httpStatus = map[Kind]int{
	KindMissingPayment:      http.StatusPaymentRequired,
	KindInvalidPayload:      http.StatusBadRequest,
	KindBadRequirementsEcho: http.StatusBadRequest,
	KindBadDestination:      http.StatusBadRequest,
	KindInsufficientValue:   http.StatusBadRequest,
	KindOutOfWindow:         http.StatusPaymentRequired,
	KindNonceUsed:           http.StatusPaymentRequired,
	KindBadSignature:        http.StatusPaymentRequired,
	KindServiceInactive:     http.StatusNotFound,
	KindSettlementFailed:    http.StatusInternalServerError,
	KindRateLimited:         http.StatusTooManyRequests,
	KindPayerBlacklisted:    http.StatusForbidden,
	KindNativeNotMediated:   http.StatusBadRequest,
}

// HTTPStatus returns the canonical status code for a Kind, or 500 if the
// Kind has no table entry (UPSTREAM_FAILED/TIMED_OUT are handled by the
// caller directly — they don't map to a single status).
func (k Kind) HTTPStatus() int {
	if s, ok := httpStatus[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the typed error value carried through the verify/settle
// pipeline. Settlement-class errors retain the offending nonce so they can
// be logged for operator follow-up per spec §7's propagation policy.
type Error struct {
	Kind    Kind
	Message string
	Nonce   string // hex, when relevant
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithNonce attaches the offending nonce (hex string) for audit logging.
func (e *Error) WithNonce(nonceHex string) *Error {
	e.Nonce = nonceHex
	return e
}

// revertSubstrings maps known PaymentProcessor/Escrow revert reasons to
// distinguishable Kinds, per spec §4.5's error translation rule. A revert
// without a recognized reason maps to SETTLEMENT_FAILED.
var revertSubstrings = []struct {
	substr string
	kind   Kind
}{
	{"authorization is used", KindNonceUsed},
	{"Service not active", KindServiceInactive},
	{"Insufficient payment", KindInsufficientValue},
	{"Nonce already used", KindNonceUsed},
}

// TranslateRevert maps a raw chain revert reason to a Kind, defaulting to
// SETTLEMENT_FAILED when the reason doesn't match a known substring.
func TranslateRevert(reason string) Kind {
	lower := strings.ToLower(reason)
	for _, m := range revertSubstrings {
		if strings.Contains(lower, strings.ToLower(m.substr)) {
			return m.kind
		}
	}
	return KindSettlementFailed
}
