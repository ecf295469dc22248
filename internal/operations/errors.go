package operations

const (
	ErrPermissionDenied     = "permission_denied"
	ErrDuplicateSubmission  = "duplicate_submission"
	ErrValidationError      = "validation_error"
	ErrNotFound             = "not_found"
	ErrTimeout              = "timeout"
	ErrNoActiveSession      = "no_active_session"
	ErrClassificationLocked = "classification_locked"
	ErrConfigurationError   = "configuration_error"
	ErrServerError          = "server_error"
)

// Error carries a stable code for the transport layer and a message
// for the invoking user.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code
}

func fail(code, message string) *Error {
	return &Error{Code: code, Message: message}
}
