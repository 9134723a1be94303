package transport

import (
	"errors"
	"net/http"

	"github.com/darbotlabs/browser-broker/internal/types"
)

// ErrorBody is the structured envelope spec §7 mandates for every error that
// crosses the transport boundary: a stable Kind plus an optional nested
// detail (driver message verbatim, guardrail rule name, checksum mismatch).
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// kindOf classifies err into spec §7's fixed Kind set. Most internal
// packages return one of the sentinel errors in internal/types rather than
// constructing a *types.KindError directly, so this is the single place
// that maps both shapes to a wire-visible Kind.
func kindOf(err error) types.Kind {
	var ke *types.KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}

	var ge *types.GuardrailError
	if errors.As(err, &ge) {
		return types.KindBlocked
	}

	var de *types.DriverError
	if errors.As(err, &de) {
		return types.KindDriver
	}

	switch {
	case errors.Is(err, types.ErrUnauthorized):
		return types.KindUnauthorized
	case errors.Is(err, types.ErrRoleForbidden):
		return types.KindForbidden
	case errors.Is(err, types.ErrToolNotFound):
		return types.KindUnknown
	case errors.Is(err, types.ErrToolBadInput):
		return types.KindBadInput
	case errors.Is(err, types.ErrNoCurrentTab), errors.Is(err, types.ErrTabNotFound):
		return types.KindNoTab
	case errors.Is(err, types.ErrSnapshotStale), errors.Is(err, types.ErrSnapshotMissing), errors.Is(err, types.ErrRefNotFound):
		return types.KindRefStale
	case errors.Is(err, types.ErrTooManySessions):
		return types.KindExhausted
	case errors.Is(err, types.ErrDriverTimeout):
		return types.KindTimeout
	case errors.Is(err, types.ErrGuardrailBlocked):
		return types.KindBlocked
	case errors.Is(err, types.ErrChecksumMismatch):
		return types.KindIntegrity
	case errors.Is(err, types.ErrSyncConflict), errors.Is(err, types.ErrActiveCrawl):
		return types.KindConflict
	case errors.Is(err, types.ErrSessionNotFound), errors.Is(err, types.ErrSessionAlreadyExists),
		errors.Is(err, types.ErrSessionExpired), errors.Is(err, types.ErrProfileNotFound),
		errors.Is(err, types.ErrNoActiveCrawl), errors.Is(err, types.ErrPeerUnreachable):
		return types.KindBadInput
	default:
		return types.KindInternal
	}
}

// statusFor maps a Kind to the HTTP status the transport sends alongside
// the JSON envelope. The envelope's "kind" field is the stable contract;
// the HTTP status is a convenience for generic clients.
func statusFor(kind types.Kind) int {
	switch kind {
	case types.KindUnauthorized:
		return http.StatusUnauthorized
	case types.KindForbidden, types.KindBlocked:
		return http.StatusForbidden
	case types.KindBadInput:
		return http.StatusBadRequest
	case types.KindUnknown, types.KindNoTab, types.KindRefStale:
		return http.StatusNotFound
	case types.KindExhausted:
		return http.StatusServiceUnavailable
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindConflict:
		return http.StatusConflict
	case types.KindIntegrity:
		return http.StatusUnprocessableEntity
	case types.KindDriver:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBodyFor builds the wire ErrorBody for err, surfacing a KindError's
// nested detail (and a GuardrailError's rule name) the way spec §7 requires.
func errorBodyFor(err error) ErrorBody {
	kind := kindOf(err)
	body := ErrorBody{Kind: string(kind), Message: err.Error()}

	var ke *types.KindError
	if errors.As(err, &ke) && ke.Detail != "" {
		body.Detail = ke.Detail
	}
	var ge *types.GuardrailError
	if errors.As(err, &ge) {
		body.Detail = ge.Rule
	}
	return body
}
