package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidInput represents malformed or missing request data.
	CodeInvalidInput Code = "INVALID_INPUT"

	// Ceremony errors
	CodeNoPendingRegistration      Code = "NO_PENDING_REGISTRATION"
	CodeCredentialNotFound         Code = "CREDENTIAL_NOT_FOUND"
	CodeCeremonyVerificationFailed Code = "CEREMONY_VERIFICATION_FAILED"
	CodeCloneDetected              Code = "CLONE_DETECTED"
	CodeCeremonyInProgress         Code = "CEREMONY_ALREADY_IN_PROGRESS"

	// Session errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - user error, the client can retry the whole ceremony
	case CodeInvalidInput,
		CodeNoPendingRegistration,
		CodeCredentialNotFound,
		CodeCeremonyVerificationFailed,
		CodeCloneDetected,
		CodeCeremonyInProgress:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
