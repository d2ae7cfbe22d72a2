package auth

import (
	"context"
	"time"
)

// CredentialStore persists user identity records. Email uniqueness is
// enforced by the backing store.
type CredentialStore interface {
	Create(ctx context.Context, name, email, passwordHash string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

// PasscodeStore persists at most one live passcode per email. Records older
// than the store TTL must read as ErrNotFound whether or not they have been
// physically removed yet.
type PasscodeStore interface {
	// Put atomically replaces any record held for rec.Email.
	Put(ctx context.Context, rec PasscodeRecord) error
	// FindByCode returns the most recently created live record holding code.
	FindByCode(ctx context.Context, code string) (*PasscodeRecord, error)
	FindByEmail(ctx context.Context, email string) (*PasscodeRecord, error)
	DeleteByEmail(ctx context.Context, email string) error
	// DeleteByCode removes the live record held for email only while it still
	// holds code, and reports whether this call was the one that removed it.
	DeleteByCode(ctx context.Context, email, code string) (bool, error)
}

// Sweeper is implemented by passcode stores that need expired records
// removed explicitly.
type Sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers a passcode to an email address.
type Notifier interface {
	SendPasscode(ctx context.Context, email, code string) error
}
