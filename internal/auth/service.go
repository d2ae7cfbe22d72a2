package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Flow names reported to the Recorder.
const (
	FlowRegister   = "register"
	FlowLogin      = "login"
	FlowOTPRequest = "otp_request"
	FlowOTPVerify  = "otp_verify"
)

// Recorder receives the outcome of each authentication flow.
type Recorder interface {
	RecordAuth(flow, outcome string)
}

// ServiceConfig collects the collaborators of Service.
type ServiceConfig struct {
	Users     CredentialStore
	Passcodes PasscodeStore
	Notifier  Notifier
	Tokens    *TokenService
	Hasher    PasswordHasher
	Generate  PasscodeGenerator
	Now       func() time.Time
	Logger    *slog.Logger
	Recorder  Recorder
}

// Service implements registration, password login and passcode login.
// It holds no mutable state of its own and is safe for concurrent use.
type Service struct {
	users     CredentialStore
	passcodes PasscodeStore
	notifier  Notifier
	tokens    *TokenService
	hasher    PasswordHasher
	generate  PasscodeGenerator
	now       func() time.Time
	logger    *slog.Logger
	recorder  Recorder

	dummyOnce sync.Once
	dummyHash string
}

// NewService constructs a Service. It panics when a required collaborator is
// missing.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Users == nil {
		panic("auth: credential store must be provided")
	}
	if cfg.Passcodes == nil {
		panic("auth: passcode store must be provided")
	}
	if cfg.Notifier == nil {
		panic("auth: notifier must be provided")
	}
	if cfg.Tokens == nil {
		panic("auth: token service must be provided")
	}
	if cfg.Hasher == nil {
		cfg.Hasher = NewBcryptHasher(DefaultBcryptCost)
	}
	if cfg.Generate == nil {
		cfg.Generate = RandomPasscode
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		users:     cfg.Users,
		passcodes: cfg.Passcodes,
		notifier:  cfg.Notifier,
		tokens:    cfg.Tokens,
		hasher:    cfg.Hasher,
		generate:  cfg.Generate,
		now:       cfg.Now,
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
	}
}

// Register creates a new account with a salted password hash.
func (s *Service) Register(ctx context.Context, in RegisterInput) (user *User, err error) {
	defer func() { s.record(FlowRegister, err) }()

	name := norm.NFC.String(strings.TrimSpace(in.Name))
	email := strings.TrimSpace(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return nil, ErrValidation
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	user, err = s.users.Create(ctx, name, email, hash)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("auth: register: %w", err)
	}
	s.logger.Info("user registered", slog.String("user_id", user.ID))
	return user, nil
}

// Login verifies an email/password pair and issues a session token. Unknown
// emails and wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (token string, err error) {
	defer func() { s.record(FlowLogin, err) }()

	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("auth: login: %w", err)
		}
		// Burn a comparison so unknown emails cost the same as wrong passwords.
		_, _ = s.hasher.Compare(s.dummy(), password)
		return "", ErrInvalidCredentials
	}
	ok, err := s.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		s.logger.Warn("stored password hash unusable", slog.String("user_id", user.ID), slog.Any("error", err))
		return "", ErrInvalidCredentials
	}
	if !ok {
		return "", ErrInvalidCredentials
	}
	return s.tokens.Issue(user.ID)
}

// RequestPasscode emails a fresh passcode to a registered user. The record is
// persisted only after the notifier succeeded; persisting it supersedes any
// earlier passcode for the same email.
func (s *Service) RequestPasscode(ctx context.Context, email string) (err error) {
	defer func() { s.record(FlowOTPRequest, err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		return ErrValidation
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUserNotRegistered
		}
		return fmt.Errorf("auth: request passcode: %w", err)
	}
	code, err := s.generate()
	if err != nil {
		return err
	}
	if err := s.notifier.SendPasscode(ctx, user.Email, code); err != nil {
		s.logger.Error("send passcode", slog.String("user_id", user.ID), slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrNotificationFailure, err)
	}
	rec := PasscodeRecord{Email: user.Email, Code: code, CreatedAt: s.now()}
	if err := s.passcodes.Put(ctx, rec); err != nil {
		return fmt.Errorf("auth: store passcode: %w", err)
	}
	s.logger.Info("passcode issued", slog.String("user_id", user.ID))
	return nil
}

// VerifyPasscode redeems a passcode for email and issues a session token.
// A passcode can be redeemed at most once.
func (s *Service) VerifyPasscode(ctx context.Context, email, code string) (token string, err error) {
	defer func() { s.record(FlowOTPVerify, err) }()

	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return "", ErrValidation
	}
	if !ValidPasscodeFormat(code) {
		return "", ErrInvalidOtp
	}
	rec, err := s.passcodes.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidOtp
		}
		return "", fmt.Errorf("auth: verify passcode: %w", err)
	}
	if rec.Email != email {
		return "", ErrInvalidOtp
	}
	removed, err := s.passcodes.DeleteByCode(ctx, rec.Email, code)
	if err != nil {
		return "", fmt.Errorf("auth: consume passcode: %w", err)
	}
	if !removed {
		// Consumed by a concurrent verify or replaced by a newer request.
		return "", ErrInvalidOtp
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidOtp
		}
		return "", fmt.Errorf("auth: verify passcode: %w", err)
	}
	return s.tokens.Issue(user.ID)
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: authenticate: %w", err)
	}
	return user, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("electrokart-timing-equaliser")
		if err != nil {
			s.logger.Warn("dummy hash", slog.Any("error", err))
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *Service) record(flow string, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordAuth(flow, Outcome(err))
}

// Outcome classifies a flow result as success, rejected (caller error) or
// error (server side failure).
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrDuplicateEmail),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUserNotRegistered),
		errors.Is(err, ErrInvalidOtp),
		IsTokenError(err):
		return "rejected"
	default:
		return "error"
	}
}
