package auth

import "time"

const (
	// DefaultPasscodeTTL is how long an emailed passcode stays redeemable.
	DefaultPasscodeTTL = 600 * time.Second
	// DefaultTokenTTL is the lifetime of an issued session token.
	DefaultTokenTTL = time.Hour
	// DefaultBcryptCost matches the cost factor used for stored password hashes.
	DefaultBcryptCost = 10
)

// User represents a registered account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// PasscodeRecord is a short-lived login code bound to an email address.
type PasscodeRecord struct {
	Email     string
	Code      string
	CreatedAt time.Time
}

// ExpiresAt returns the instant from which the record can no longer be redeemed.
func (r PasscodeRecord) ExpiresAt(ttl time.Duration) time.Time {
	return r.CreatedAt.Add(ttl)
}

// Live reports whether the record is still redeemable at now.
func (r PasscodeRecord) Live(now time.Time, ttl time.Duration) bool {
	return now.Before(r.ExpiresAt(ttl))
}

// RegisterInput carries the fields required to create an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}
