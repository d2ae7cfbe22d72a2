package auth

import "errors"

var (
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateEmail occurs when registering an email that already exists.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidCredentials indicates a password login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotRegistered occurs when a passcode is requested for an unknown email.
	ErrUserNotRegistered = errors.New("user not registered")
	// ErrInvalidOtp indicates an unknown, expired, consumed or mismatched passcode.
	ErrInvalidOtp = errors.New("invalid otp")
	// ErrNotificationFailure occurs when the passcode could not be delivered.
	ErrNotificationFailure = errors.New("passcode delivery failed")

	// ErrTokenMalformed indicates a token that cannot be parsed.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired indicates a token presented at or after its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenBadSignature indicates a token not signed with the service key.
	ErrTokenBadSignature = errors.New("token signature invalid")

	// ErrNotFound is returned by stores when no live record matches.
	ErrNotFound = errors.New("not found")
)

// IsTokenError reports whether err is one of the session token failures.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenBadSignature)
}
