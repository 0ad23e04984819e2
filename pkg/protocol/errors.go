package protocol

// Companion API error codes. These are part of the public contract and are
// returned verbatim in the "error" field of REST responses.
const (
	ErrAuthorizationTimeout  = "AUTHORIZATION_TIMEOUT"
	ErrAuthorizationDisabled = "AUTHORIZATION_DISABLED"
	ErrAuthorizationInvalid  = "AUTHORIZATION_INVALID"
	ErrAuthorizationDenied   = "AUTHORIZATION_DENIED"
	ErrUnauthorized          = "UNAUTHORIZED"
	ErrYTMUnavailable        = "YTM_UNAVAILABLE"
	ErrYTMResultTimeout      = "YTM_RESULT_TIMEOUT"
	ErrRateLimited           = "RATE_LIMITED"
)

// RPC error codes used on the admin and content WebSocket links.
const (
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrUnavailable        = "UNAVAILABLE"
	ErrNotFound           = "NOT_FOUND"
	ErrAlreadyExists      = "ALREADY_EXISTS"
	ErrFailedPrecondition = "FAILED_PRECONDITION"
	ErrInternal           = "INTERNAL"
)
